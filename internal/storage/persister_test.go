package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/game"
	"github.com/scythe504/skribblr-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRoomStore struct {
	mock.Mock
}

func (m *MockRoomStore) SaveRoom(ctx context.Context, roomID string, tree json.RawMessage) error {
	args := m.Called(ctx, roomID, tree)
	return args.Error(0)
}

func (m *MockRoomStore) LoadRooms(ctx context.Context) (map[string]json.RawMessage, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).(map[string]json.RawMessage)
	return rooms, args.Error(1)
}

func (m *MockRoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func newTestPersister(t *testing.T, repo RoomStore) (*Persister, *store.Memory) {
	t.Helper()
	p := NewPersister(repo, time.Hour)
	mem := store.NewMemory(p.Option())
	p.Attach(mem)
	t.Cleanup(mem.Close)
	return p, mem
}

func TestPersister_FlushSavesChangedRooms(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	require.NoError(t, mem.Set(ctx, internal.PlayerPath("ABC123", "p1"), internal.NewPlayer("p1", "alice")))
	require.NoError(t, mem.Set(ctx, internal.GamePath("ABC123"), internal.NewChoosingRound("p1", 1, 80)))

	repo.On("SaveRoom", mock.Anything, "ABC123", mock.MatchedBy(func(tree json.RawMessage) bool {
		var room map[string]json.RawMessage
		return json.Unmarshal(tree, &room) == nil && room["players"] != nil && room["game"] != nil
	})).Return(nil).Once()

	require.NoError(t, p.Flush(ctx))
	repo.AssertExpectations(t)

	// Nothing changed since: nothing to save.
	require.NoError(t, p.Flush(ctx))
	repo.AssertNumberOfCalls(t, "SaveRoom", 1)
}

func TestPersister_FlushExpiresEmptyRooms(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	require.NoError(t, mem.Set(ctx, internal.GamePath("ABC123"), internal.NewChoosingRound("p1", 1, 80)))
	require.NoError(t, mem.Set(ctx, internal.PlayerPath("ABC123", "ghost"), map[string]any{"hasGuessed": false}))

	repo.On("DeleteRoom", mock.Anything, "ABC123").Return(ErrRoomNotFound)

	require.NoError(t, p.Flush(ctx))

	snap, err := mem.Get(ctx, internal.RoomPath("ABC123"))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	repo.AssertCalled(t, "DeleteRoom", mock.Anything, "ABC123")
}

func TestPersister_FailedSaveIsRetried(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	require.NoError(t, mem.Set(ctx, internal.PlayerPath("ABC123", "p1"), internal.NewPlayer("p1", "alice")))

	boom := errors.New("boom")
	repo.On("SaveRoom", mock.Anything, "ABC123", mock.Anything).Return(boom).Once()
	repo.On("SaveRoom", mock.Anything, "ABC123", mock.Anything).Return(nil).Once()

	assert.ErrorIs(t, p.Flush(ctx), boom)
	require.NoError(t, p.Flush(ctx))
	repo.AssertExpectations(t)
}

func savedRooms() map[string]json.RawMessage {
	return map[string]json.RawMessage{
		"ABC123": json.RawMessage(`{"players":{"p1":{"name":"alice","score":10,"active":true}},"game":{"phase":"choosing","currentDrawer":"p1","timeLeft":80,"round":1},"drawing":{"k1":{"x0":1,"y0":1,"x1":2,"y1":2,"color":"#000000","size":4}},"chat":{"k1":{"username":"System","message":"alice joined the room","type":"system","timestamp":1}}}`),
		"EMPTY1": json.RawMessage(`{"players":{"p1":{"name":"alice"}},"game":{"phase":"choosing","currentDrawer":"p1","timeLeft":80,"round":1}}`),
		"BROKEN": json.RawMessage(`"nope"`),
	}
}

func TestPersister_RestoreKeepsOnlyChat(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	repo.On("LoadRooms", mock.Anything).Return(savedRooms(), nil)

	n, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, path := range []string{
		internal.PlayersPath("ABC123"),
		internal.GamePath("ABC123"),
		internal.DrawingPath("ABC123"),
		internal.RoomPath("EMPTY1"),
	} {
		snap, err := mem.Get(ctx, path)
		require.NoError(t, err)
		assert.False(t, snap.Exists(), path)
	}

	snap, err := mem.Get(ctx, internal.ChatPath("ABC123"))
	require.NoError(t, err)
	assert.Len(t, snap.Children(), 1)
}

func TestPersister_FlushExpiresRestoredRoomsNobodyRejoined(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	repo.On("LoadRooms", mock.Anything).Return(savedRooms(), nil)
	repo.On("DeleteRoom", mock.Anything, mock.Anything).Return(nil)

	_, err := p.Restore(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx))

	snap, err := mem.Get(ctx, internal.RoomPath("ABC123"))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
	for _, id := range []string{"ABC123", "EMPTY1", "BROKEN"} {
		repo.AssertCalled(t, "DeleteRoom", mock.Anything, id)
	}
	repo.AssertNotCalled(t, "SaveRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestPersister_RejoinAfterRestoreStartsFreshRound(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	repo.On("LoadRooms", mock.Anything).Return(savedRooms(), nil)
	_, err := p.Restore(ctx)
	require.NoError(t, err)

	conn := mem.Connect()
	t.Cleanup(func() { _ = conn.Close() })
	s, err := game.Join(ctx, conn, "ABC123", "p9", "zed", nil, game.Config{
		TickInterval: time.Hour,
		Words:        []string{"cat", "dog", "tree"},
		IntN:         func(int) int { return 0 },
	})
	require.NoError(t, err)
	mem.Sync()

	round := s.Round()
	assert.True(t, round.Active)
	assert.Equal(t, "p9", round.DrawerID)
	assert.True(t, round.IsDrawer)
	assert.Equal(t, internal.PhaseChoosing, round.Phase)
	assert.Len(t, s.WordChoices(), 3)

	repo.On("SaveRoom", mock.Anything, "ABC123", mock.Anything).Return(nil).Once()
	repo.On("DeleteRoom", mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, p.Flush(ctx))
	repo.AssertCalled(t, "SaveRoom", mock.Anything, "ABC123", mock.Anything)
	repo.AssertNotCalled(t, "DeleteRoom", mock.Anything, "ABC123")
}

func TestPersister_RunFlushesOnShutdown(t *testing.T) {
	repo := new(MockRoomStore)
	p, mem := newTestPersister(t, repo)

	require.NoError(t, mem.Set(context.Background(), internal.PlayerPath("ABC123", "p1"), internal.NewPlayer("p1", "alice")))
	repo.On("SaveRoom", mock.Anything, "ABC123", mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	repo.AssertExpectations(t)
}

func TestPersister_MarkDirtyIgnoresOtherPaths(t *testing.T) {
	p := NewPersister(new(MockRoomStore), 0)
	p.MarkDirty("rooms")
	p.MarkDirty("other/ABC123")
	p.MarkDirty("/rooms/ABC123/chat/k1")

	assert.Equal(t, []string{"ABC123"}, p.takeDirty())
	assert.Empty(t, p.takeDirty())
}
