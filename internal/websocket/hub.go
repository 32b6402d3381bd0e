package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
	"golang.org/x/time/rate"
)

const (
	outboxSize   = 256
	pingInterval = 30 * time.Second
	pongWait     = time.Minute
	writeWait    = 10 * time.Second
)

var ErrRateLimited = errors.New("relay: rate limited")

// =============================================================================
// HUB
// =============================================================================

// Hub relays a shared store.Memory to websocket clients. Each socket gets its own
// store connection, so a dropped socket runs that client's disconnect deletes.
type Hub struct {
	mem      *store.Memory
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int

	mu    sync.Mutex
	peers map[*peer]struct{}
}

type HubOption func(*Hub)

// WithRateLimit caps the requests each connection may make. Subscription events
// are not counted.
func WithRateLimit(perSecond float64, burst int) HubOption {
	return func(h *Hub) {
		h.limit = rate.Limit(perSecond)
		h.burst = burst
	}
}

func NewHub(mem *store.Memory, opts ...HubOption) *Hub {
	h := &Hub{
		mem: mem,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limit: 50,
		burst: 100,
		peers: make(map[*peer]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleWebSocket upgrades the request and serves store requests until the socket
// closes.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[HandleWebSocket] upgrade failed")
		return
	}

	p := &peer{
		hub:     h,
		socket:  socket,
		conn:    h.mem.Connect(),
		limiter: rate.NewLimiter(h.limit, h.burst),
		outbox:  make(chan []byte, outboxSize),
		done:    make(chan struct{}),
		subs:    make(map[uint64]store.Unsubscribe),
	}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	count := len(h.peers)
	h.mu.Unlock()

	log.Info().Str("conn", p.conn.ID()).Str("remote", r.RemoteAddr).Int("connections", count).Msg("[HandleWebSocket] client connected")

	go p.writePump()
	p.readPump()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close drops every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

// =============================================================================
// PEER
// =============================================================================

type peer struct {
	hub     *Hub
	socket  *websocket.Conn
	conn    *store.Conn
	limiter *rate.Limiter
	outbox  chan []byte
	done    chan struct{}
	once    sync.Once

	mu   sync.Mutex
	subs map[uint64]store.Unsubscribe
}

func (p *peer) readPump() {
	defer p.close()

	p.socket.SetReadDeadline(time.Now().Add(pongWait))
	p.socket.SetPongHandler(func(string) error {
		return p.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("conn", p.conn.ID()).Msg("[readPump] read failed")
			}
			return
		}
		p.socket.SetReadDeadline(time.Now().Add(pongWait))

		var env internal.Message[json.RawMessage]
		if err := json.Unmarshal(data, &env); err != nil || env.Type != internal.MessageRequest {
			log.Debug().Str("conn", p.conn.ID()).Msg("[readPump] ignoring malformed frame")
			continue
		}
		var req internal.StoreRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Debug().Err(err).Str("conn", p.conn.ID()).Msg("[readPump] ignoring malformed request")
			continue
		}

		if !p.limiter.Allow() {
			p.reply(internal.StoreReply{ID: req.ID, Code: internal.CodeRateLimited, Error: ErrRateLimited.Error()})
			continue
		}
		p.reply(p.handle(req))
	}
}

func (p *peer) handle(req internal.StoreRequest) internal.StoreReply {
	ctx := context.Background()
	reply := internal.StoreReply{ID: req.ID}

	var err error
	switch req.Op {
	case internal.OpGet:
		var snap store.Snapshot
		if snap, err = p.conn.Get(ctx, req.Path); err == nil {
			reply.Value = snap.Value
		}
	case internal.OpSet:
		err = p.conn.Set(ctx, req.Path, req.Value)
	case internal.OpUpdate:
		fields := make(map[string]any, len(req.Fields))
		for k, v := range req.Fields {
			fields[k] = v
		}
		err = p.conn.Update(ctx, req.Path, fields)
	case internal.OpDelete:
		err = p.conn.Delete(ctx, req.Path)
	case internal.OpPush:
		reply.Key, err = p.conn.Push(ctx, req.Path, req.Value)
	case internal.OpSubscribe:
		err = p.subscribe(ctx, req)
	case internal.OpUnsubscribe:
		p.unsubscribe(req.Sub)
	case internal.OpOnDisconnectDelete:
		err = p.conn.OnDisconnectDelete(ctx, req.Path)
	case internal.OpCancelOnDisconnect:
		err = p.conn.CancelOnDisconnect(ctx, req.Path)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
		reply.Code = internal.CodeBadRequest
	}

	if err != nil {
		if reply.Code == "" {
			reply.Code = codeFor(err)
		}
		reply.Error = err.Error()
		log.Debug().Err(err).Str("conn", p.conn.ID()).Str("op", string(req.Op)).Str("path", req.Path).Msg("[handle] request failed")
	}
	return reply
}

// subscribe uses the id the client picked, so events can reach it before the
// reply does.
func (p *peer) subscribe(ctx context.Context, req internal.StoreRequest) error {
	if req.Sub == 0 {
		return fmt.Errorf("%w: subscription id required", store.ErrInvalidPath)
	}
	unsub, err := p.conn.Subscribe(ctx, req.Path, func(snap store.Snapshot) {
		p.send(internal.Message[internal.StoreEvent]{
			Type: internal.MessageEvent,
			Data: internal.StoreEvent{Sub: req.Sub, Path: snap.Path, Value: snap.Value},
		})
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	if old, ok := p.subs[req.Sub]; ok {
		old()
	}
	p.subs[req.Sub] = unsub
	p.mu.Unlock()
	return nil
}

func (p *peer) unsubscribe(id uint64) {
	p.mu.Lock()
	unsub, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if ok {
		unsub()
	}
}

func (p *peer) reply(r internal.StoreReply) {
	p.send(internal.Message[internal.StoreReply]{Type: internal.MessageReply, Data: r})
}

// send never blocks the store's dispatcher: a client that cannot keep up is
// dropped.
func (p *peer) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("conn", p.conn.ID()).Msg("[send] encode failed")
		return
	}
	select {
	case <-p.done:
	case p.outbox <- data:
	default:
		log.Warn().Str("conn", p.conn.ID()).Msg("[send] outbox full, dropping client")
		go p.close()
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case <-p.done:
			return
		case data := <-p.outbox:
			p.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("conn", p.conn.ID()).Msg("[writePump] write failed")
				return
			}
		case <-ticker.C:
			p.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)

		p.mu.Lock()
		subs := p.subs
		p.subs = make(map[uint64]store.Unsubscribe)
		p.mu.Unlock()
		for _, unsub := range subs {
			unsub()
		}

		if err := p.conn.Close(); err != nil {
			log.Error().Err(err).Str("conn", p.conn.ID()).Msg("[close] disconnect cleanup failed")
		}
		_ = p.socket.Close()
		p.hub.remove(p)
		log.Info().Str("conn", p.conn.ID()).Msg("[close] client disconnected")
	})
}

func codeFor(err error) internal.ErrorCode {
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		return internal.CodeInvalidPath
	case errors.Is(err, store.ErrDisconnected), errors.Is(err, store.ErrClosed):
		return internal.CodeDisconnected
	default:
		return internal.CodeInternal
	}
}
