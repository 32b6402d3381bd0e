package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// =============================================================================
// ROSTER MANAGEMENT
// =============================================================================

// joinRoster writes the player record and, only once that succeeded, asks the
// store to delete it when this client disconnects.
func (s *Session) joinRoster(ctx context.Context) error {
	path := internal.PlayerPath(s.roomID, s.self.Id)
	if err := s.store.Set(ctx, path, s.self); err != nil {
		log.Error().Err(err).Str("room", s.roomID).Str("player", s.self.Id).Msg("[joinRoster] write player failed")
		return fmt.Errorf("write player: %w", err)
	}
	if err := s.store.OnDisconnectDelete(ctx, path); err != nil {
		log.Error().Err(err).Str("room", s.roomID).Str("player", s.self.Id).Msg("[joinRoster] register disconnect cleanup failed")
		if delErr := s.store.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			log.Warn().Err(delErr).Str("room", s.roomID).Msg("[joinRoster] rollback failed")
		}
		return fmt.Errorf("register disconnect cleanup: %w", err)
	}
	log.Debug().Str("room", s.roomID).Str("player", s.self.Id).Msg("[joinRoster] player registered")
	return nil
}

// leaveRoster deletes the player record. A connection that is already gone has
// had its disconnect cleanup remove the record, so that counts as left.
func (s *Session) leaveRoster(ctx context.Context) error {
	path := internal.PlayerPath(s.roomID, s.self.Id)
	err := s.store.Delete(ctx, path)
	if err == nil {
		err = s.store.CancelOnDisconnect(ctx, path)
	}
	if errors.Is(err, store.ErrDisconnected) {
		log.Debug().Str("room", s.roomID).Str("player", s.self.Id).Msg("[leaveRoster] connection gone, disconnect cleanup removed the player")
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	return nil
}

// Leave removes the player from the room without tearing the session down.
// Calling it again, or after the connection dropped, is harmless.
func (s *Session) Leave(ctx context.Context) error {
	return s.leaveRoster(ctx)
}

// decodeRoster drops records that are not complete players, such as the partial
// {hasGuessed:false} a round reset can leave behind for someone who just left.
func decodeRoster(snap store.Snapshot) internal.Roster {
	children := snap.Children()
	players := make([]internal.Player, 0, len(children))
	for _, c := range children {
		var p internal.Player
		if err := c.Decode(&p); err != nil {
			log.Debug().Err(err).Str("key", c.Key).Msg("[decodeRoster] skipping malformed player")
			continue
		}
		p.Id = c.Key
		if !p.Valid() {
			log.Debug().Str("key", c.Key).Msg("[decodeRoster] skipping partial player")
			continue
		}
		players = append(players, p)
	}
	return internal.NewRoster(players)
}

func (s *Session) onRoster(snap store.Snapshot) {
	roster := decodeRoster(snap)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.roster = roster
	var round *internal.RoundState
	if s.round != nil {
		r := *s.round
		round = &r
	}
	view := s.roundViewLocked()
	s.mu.Unlock()

	log.Debug().Str("room", s.roomID).Int("players", roster.GetPlayerCount()).Msg("[onRoster] roster changed")

	s.view.RosterChanged(roster.Players())
	s.view.RoundChanged(view)
	s.checkAllGuessed(round, roster)
	s.checkStaleDrawer(round, roster)
}

// =============================================================================
// ROUND END TRIGGERS DRIVEN BY THE ROSTER
// =============================================================================

// checkAllGuessed schedules a round end on the drawer's client once every other
// player has guessed. The delay lets the last correct guess show up first.
func (s *Session) checkAllGuessed(round *internal.RoundState, roster internal.Roster) {
	if round == nil || round.Phase != internal.PhaseDrawing || round.CurrentDrawer != s.self.Id {
		return
	}
	if !roster.HasEveryoneGuessed(s.self.Id) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.allGuessed != nil {
		return
	}

	log.Info().Str("room", s.roomID).Dur("delay", s.cfg.AllGuessedDelay).Msg("[checkAllGuessed] everyone guessed, ending round")

	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.AllGuessedDelay, func() {
		s.mu.Lock()
		current := s.allGuessed == timer
		if current {
			s.allGuessed = nil
		}
		s.mu.Unlock()
		if !current {
			return
		}
		if err := s.endRound(s.ctx, s.self.Id, internal.PhaseDrawing, EndAllGuessed); err != nil {
			log.Error().Err(err).Str("room", s.roomID).Msg("[checkAllGuessed] round end failed")
			s.notice(err)
		}
	})
	s.allGuessed = timer
}

func (s *Session) cancelAllGuessedLocked() {
	if s.allGuessed != nil {
		s.allGuessed.Stop()
		s.allGuessed = nil
	}
}

// checkStaleDrawer ends a round whose drawer is gone. Only the first player in
// roster order acts, so one client normally does the recovery.
func (s *Session) checkStaleDrawer(round *internal.RoundState, roster internal.Roster) {
	if !s.cfg.RecoverStaleDrawer || round == nil || roster.GetPlayerCount() == 0 {
		return
	}
	if roster.Contains(round.CurrentDrawer) {
		return
	}
	if first, _ := roster.First(); first.Id != s.self.Id {
		return
	}

	s.mu.Lock()
	if s.closed || s.recovering == round.CurrentDrawer {
		s.mu.Unlock()
		return
	}
	s.recovering = round.CurrentDrawer
	s.mu.Unlock()

	expected := *round
	log.Warn().Str("room", s.roomID).Str("drawer", expected.CurrentDrawer).Msg("[checkStaleDrawer] drawer left, recovering round")

	go func() {
		if err := s.endRound(s.ctx, expected.CurrentDrawer, expected.Phase, EndDrawerLeft); err != nil {
			log.Error().Err(err).Str("room", s.roomID).Msg("[checkStaleDrawer] round end failed")
			s.notice(err)
		}
		s.mu.Lock()
		if s.recovering == expected.CurrentDrawer {
			s.recovering = ""
		}
		s.mu.Unlock()
	}()
}
