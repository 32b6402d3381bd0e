package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/game"
	"github.com/scythe504/skribblr-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, opts ...HubOption) (*store.Memory, *Hub, string) {
	t.Helper()
	mem := store.NewMemory()
	hub := NewHub(mem, opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		mem.Close()
	})
	return mem, hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_ReadWrite(t *testing.T) {
	ctx := context.Background()
	mem, _, url := startRelay(t)
	c := dial(t, url)

	require.NoError(t, c.Set(ctx, "rooms/R/game", map[string]any{"phase": "choosing", "timeLeft": 80}))
	require.NoError(t, c.Update(ctx, "rooms/R", map[string]any{"game/timeLeft": 79, "game/round": 1}))

	snap, err := c.Get(ctx, "rooms/R/game")
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"choosing","timeLeft":79,"round":1}`, string(snap.Value))

	direct, err := mem.Get(ctx, "rooms/R/game/timeLeft")
	require.NoError(t, err)
	assert.JSONEq(t, `79`, string(direct.Value))

	require.NoError(t, c.Delete(ctx, "rooms/R/game"))
	snap, err = c.Get(ctx, "rooms/R")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, c.Set(ctx, "x", 1))
	require.NoError(t, c.Set(ctx, "x", nil))
	snap, err = c.Get(ctx, "x")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestClient_PushKeepsOrder(t *testing.T) {
	ctx := context.Background()
	_, _, url := startRelay(t)
	c := dial(t, url)

	for i := 0; i < 20; i++ {
		key, err := c.Push(ctx, "rooms/R/chat", map[string]any{"n": i})
		require.NoError(t, err)
		assert.NotEmpty(t, key)
	}

	snap, err := c.Get(ctx, "rooms/R/chat")
	require.NoError(t, err)
	children := snap.Children()
	require.Len(t, children, 20)
	for i, child := range children {
		var v struct{ N int }
		require.NoError(t, child.Decode(&v))
		assert.Equal(t, i, v.N)
	}
}

func TestClient_InvalidPath(t *testing.T) {
	_, _, url := startRelay(t)
	c := dial(t, url)

	err := c.Set(context.Background(), "a/$b", 1)
	assert.ErrorIs(t, err, store.ErrInvalidPath)
}

func TestClient_SubscribeAcrossClients(t *testing.T) {
	ctx := context.Background()
	_, _, url := startRelay(t)
	writer := dial(t, url)
	reader := dial(t, url)

	var mu sync.Mutex
	var seen []string
	unsub, err := reader.Subscribe(ctx, "rooms/R/players", func(s store.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(s.Value))
	})
	require.NoError(t, err)

	require.NoError(t, writer.Set(ctx, "rooms/R/players/a", map[string]any{"name": "A"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Empty(t, seen[0], "first delivery is the current, absent value")
	assert.JSONEq(t, `{"a":{"name":"A"}}`, seen[1])
	mu.Unlock()

	unsub()
	unsub()
	require.NoError(t, writer.Set(ctx, "rooms/R/players/b", map[string]any{"name": "B"}))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}

func TestClient_CloseRunsDisconnectCleanup(t *testing.T) {
	ctx := context.Background()
	mem, hub, url := startRelay(t)
	c := dial(t, url)

	require.NoError(t, c.Set(ctx, "rooms/R/players/a", map[string]any{"name": "A"}))
	require.NoError(t, c.OnDisconnectDelete(ctx, "rooms/R/players/a"))
	require.NoError(t, c.Set(ctx, "rooms/R/players/b", map[string]any{"name": "B"}))
	assert.Equal(t, 1, hub.ConnectionCount())

	require.NoError(t, c.Close())
	<-c.Done()

	require.Eventually(t, func() bool {
		snap, err := mem.Get(ctx, "rooms/R/players/a")
		return err == nil && !snap.Exists()
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := mem.Get(ctx, "rooms/R/players/b")
	require.NoError(t, err)
	assert.True(t, snap.Exists())

	assert.ErrorIs(t, c.Set(ctx, "x", 1), store.ErrDisconnected)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RateLimit(t *testing.T) {
	ctx := context.Background()
	_, _, url := startRelay(t, WithRateLimit(0.001, 2))
	c := dial(t, url)

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "a", 2))
	assert.ErrorIs(t, c.Set(ctx, "a", 3), ErrRateLimited)
}

func TestSessionsOverRelay(t *testing.T) {
	ctx := context.Background()
	mem, _, url := startRelay(t)

	cfg := game.Config{
		TickInterval: time.Hour,
		Words:        []string{"cat", "dog", "tree"},
		IntN:         func(int) int { return 0 },
	}

	aliceConn := dial(t, url)
	alice, err := game.Join(ctx, aliceConn, "room01", "p1", "alice", nil, cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(alice.WordChoices()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	bobConn := dial(t, url)
	bob, err := game.Join(ctx, bobConn, "ROOM01", "p2", "bob", nil, cfg)
	require.NoError(t, err)

	require.NoError(t, alice.SelectWord(ctx, "cat"))
	require.Eventually(t, func() bool {
		return bob.Round().Hint == "_ _ _"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.SubmitGuess(ctx, "cat"))
	require.Eventually(t, func() bool {
		snap, err := mem.Get(ctx, internal.PlayerPath("ROOM01", "p2"))
		if err != nil {
			return false
		}
		var p internal.Player
		return snap.Decode(&p) == nil && p.Score == 50
	}, 2*time.Second, 10*time.Millisecond)

	// Dropping bob's socket removes him for everyone.
	require.NoError(t, bobConn.Close())
	require.Eventually(t, func() bool {
		return !alice.Roster().Contains("p2")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = alice.Exit(ctx)
	require.NoError(t, err)
}
