package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/game"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// RoomStore is where room snapshots are kept between relay restarts.
type RoomStore interface {
	SaveRoom(ctx context.Context, roomID string, tree json.RawMessage) error
	LoadRooms(ctx context.Context) (map[string]json.RawMessage, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Persister copies changed rooms from a store.Memory to a RoomStore and expires
// rooms once their last player has left.
type Persister struct {
	repo     RoomStore
	interval time.Duration
	mem      *store.Memory

	restoring atomic.Bool

	mu    sync.Mutex
	dirty map[string]struct{}
}

func NewPersister(repo RoomStore, interval time.Duration) *Persister {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Persister{
		repo:     repo,
		interval: interval,
		dirty:    make(map[string]struct{}),
	}
}

// Option installs the persister's change tracking on a new store.Memory.
func (p *Persister) Option() store.MemoryOption {
	return store.WithMutationHook(p.MarkDirty)
}

// Attach sets the memory rooms are read from and restored into.
func (p *Persister) Attach(mem *store.Memory) {
	p.mem = mem
}

// MarkDirty records the room a written path belongs to.
func (p *Persister) MarkDirty(path string) {
	if p.restoring.Load() {
		return
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || segs[0] != internal.RoomsRoot {
		return
	}
	p.mu.Lock()
	p.dirty[segs[1]] = struct{}{}
	p.mu.Unlock()
}

func (p *Persister) takeDirty() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	rooms := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		rooms = append(rooms, id)
	}
	p.dirty = make(map[string]struct{})
	return rooms
}

// Restore loads every saved room's chat into memory. Players, the round and the
// canvas are dropped: connections did not survive the restart, so the first player
// to rejoin starts a fresh round. Every saved room is marked changed, so the next
// Flush expires the ones nobody came back to, in memory and in the repository.
func (p *Persister) Restore(ctx context.Context) (int, error) {
	rooms, err := p.repo.LoadRooms(ctx)
	if err != nil {
		return 0, err
	}

	restored, err := p.restore(ctx, rooms)
	for id := range rooms {
		p.MarkDirty(internal.RoomPath(id))
	}
	log.Info().Int("rooms", restored).Msg("[Restore] rooms restored")
	return restored, err
}

func (p *Persister) restore(ctx context.Context, rooms map[string]json.RawMessage) (int, error) {
	p.restoring.Store(true)
	defer p.restoring.Store(false)

	restored := 0
	for id, tree := range rooms {
		var room map[string]json.RawMessage
		if err := json.Unmarshal(tree, &room); err != nil {
			log.Warn().Err(err).Str("room", id).Msg("[Restore] skipping unreadable room")
			continue
		}
		for _, node := range []string{"players", "game", "drawing"} {
			delete(room, node)
		}
		if len(room) == 0 {
			continue
		}
		if err := p.mem.Set(ctx, internal.RoomPath(id), room); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// Flush saves every room changed since the last flush, and removes rooms that no
// longer have players from both memory and the repository.
func (p *Persister) Flush(ctx context.Context) error {
	var errs []error
	for _, id := range p.takeDirty() {
		snap, err := p.mem.Get(ctx, internal.RoomPath(id))
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if game.SummarizeRoom(id, snap).PlayerCount == 0 {
			if snap.Exists() {
				if err := p.mem.Delete(ctx, internal.RoomPath(id)); err != nil {
					errs = append(errs, err)
					continue
				}
				log.Info().Str("room", id).Msg("[Flush] room expired")
			}
			if err := p.repo.DeleteRoom(ctx, id); err != nil && !errors.Is(err, ErrRoomNotFound) {
				errs = append(errs, err)
			}
			continue
		}

		if err := p.repo.SaveRoom(ctx, id, snap.Value); err != nil {
			log.Error().Err(err).Str("room", id).Msg("[Flush] save failed")
			p.MarkDirty(internal.RoomPath(id))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := p.Flush(context.WithoutCancel(ctx)); err != nil {
				log.Error().Err(err).Msg("[Persister.Run] final flush failed")
			}
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("[Persister.Run] flush failed")
			}
		}
	}
}
