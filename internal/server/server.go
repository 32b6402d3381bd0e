package server

import (
	"net/http"
	"time"

	"github.com/scythe504/skribblr-sync/internal/store"
	"github.com/scythe504/skribblr-sync/internal/websocket"
)

type Server struct {
	mem       *store.Memory
	hub       *websocket.Hub
	startedAt time.Time
}

func New(mem *store.Memory, hub *websocket.Hub) *Server {
	return &Server{
		mem:       mem,
		hub:       hub,
		startedAt: time.Now(),
	}
}

// NewServer wires the relay and the room lookups into an http.Server listening on
// addr.
func NewServer(addr string, mem *store.Memory, hub *websocket.Hub) *http.Server {
	s := New(mem, hub)
	return &http.Server{
		Addr:         addr,
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
