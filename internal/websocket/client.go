package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/scythe504/skribblr-sync/internal"
	"github.com/scythe504/skribblr-sync/internal/store"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client is a store.Store backed by a relay Hub over a websocket. Closing it, or
// losing the socket, runs the disconnect registrations on the relay.
type Client struct {
	socket  *websocket.Conn
	writeMu sync.Mutex

	nextID  atomic.Uint64
	nextSub atomic.Uint64

	mu      sync.Mutex
	closed  bool
	pending map[uint64]chan internal.StoreReply
	subs    map[uint64]func(store.Snapshot)

	events *eventQueue
	done   chan struct{}
}

var _ store.Store = (*Client)(nil)

// Dial connects to a relay endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		socket:  socket,
		pending: make(map[uint64]chan internal.StoreReply),
		subs:    make(map[uint64]func(store.Snapshot)),
		events:  newEventQueue(),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatch()
	return c, nil
}

func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	reply, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpGet, Path: path})
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: path, Value: reply.Value}, nil
}

func (c *Client) Set(ctx context.Context, path string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpSet, Path: path, Value: raw})
	return err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", k, err)
		}
		encoded[k] = raw
	}
	_, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpUpdate, Path: path, Fields: encoded})
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpDelete, Path: path})
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := encodeValue(value)
	if err != nil {
		return "", err
	}
	reply, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpPush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return reply.Key, nil
}

func (c *Client) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.Unsubscribe, error) {
	id := c.nextSub.Add(1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrDisconnected
	}
	c.subs[id] = fn
	c.mu.Unlock()

	if _, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpSubscribe, Path: path, Sub: id}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			// Events still in flight are dropped locally; the relay is told so it
			// stops sending them.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), writeWait)
				defer cancel()
				if _, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpUnsubscribe, Sub: id}); err != nil && !errors.Is(err, store.ErrDisconnected) {
					log.Debug().Err(err).Uint64("sub", id).Msg("[Client.Unsubscribe] relay unsubscribe failed")
				}
			}()
		})
	}, nil
}

func (c *Client) OnDisconnectDelete(ctx context.Context, path string) error {
	_, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpOnDisconnectDelete, Path: path})
	return err
}

func (c *Client) CancelOnDisconnect(ctx context.Context, path string) error {
	_, err := c.roundTrip(ctx, internal.StoreRequest{Op: internal.OpCancelOnDisconnect, Path: path})
	return err
}

// Close sends a close frame and drops the socket. It is safe to call twice.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) roundTrip(ctx context.Context, req internal.StoreRequest) (internal.StoreReply, error) {
	req.ID = c.nextID.Add(1)
	ch := make(chan internal.StoreReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return internal.StoreReply{}, store.ErrDisconnected
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := c.write(internal.Message[internal.StoreRequest]{Type: internal.MessageRequest, Data: req}); err != nil {
		forget()
		return internal.StoreReply{}, err
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, replyError(reply)
		}
		return reply, nil
	case <-ctx.Done():
		forget()
		return internal.StoreReply{}, ctx.Err()
	case <-c.done:
		return internal.StoreReply{}, store.ErrDisconnected
	}
}

func (c *Client) write(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.socket.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", store.ErrDisconnected, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("[Client.readLoop] connection lost")
			}
			return
		}

		var env internal.Message[json.RawMessage]
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Msg("[Client.readLoop] ignoring malformed frame")
			continue
		}

		switch env.Type {
		case internal.MessageReply:
			var reply internal.StoreReply
			if err := json.Unmarshal(env.Data, &reply); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[reply.ID]
			delete(c.pending, reply.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- reply
			}
		case internal.MessageEvent:
			var ev internal.StoreEvent
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				continue
			}
			c.events.push(ev)
		}
	}
}

// dispatch runs subscriber callbacks off the read loop, so a callback can make
// requests and wait for their replies.
func (c *Client) dispatch() {
	for {
		ev, ok := c.events.pop()
		if !ok {
			return
		}
		c.mu.Lock()
		fn := c.subs[ev.Sub]
		c.mu.Unlock()
		if fn == nil {
			continue
		}
		c.deliver(fn, store.Snapshot{Path: ev.Path, Value: ev.Value})
	}
}

func (c *Client) deliver(fn func(store.Snapshot), snap store.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("path", snap.Path).Interface("panic", r).Msg("[Client.deliver] subscriber panicked")
		}
	}()
	fn(snap)
}

func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[uint64]chan internal.StoreReply)
	c.subs = make(map[uint64]func(store.Snapshot))
	c.mu.Unlock()

	close(c.done)
	c.events.close()
	_ = c.socket.Close()
}

func encodeValue(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}

func replyError(reply internal.StoreReply) error {
	switch reply.Code {
	case internal.CodeInvalidPath:
		return fmt.Errorf("%w: %s", store.ErrInvalidPath, reply.Error)
	case internal.CodeDisconnected:
		return fmt.Errorf("%w: %s", store.ErrDisconnected, reply.Error)
	case internal.CodeRateLimited:
		return ErrRateLimited
	default:
		return fmt.Errorf("relay: %s", reply.Error)
	}
}

// =============================================================================
// EVENT QUEUE
// =============================================================================

// eventQueue is unbounded so the read loop never waits on a slow subscriber.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []internal.StoreEvent
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(ev internal.StoreEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Signal()
}

func (q *eventQueue) pop() (internal.StoreEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return internal.StoreEvent{}, false
	}
	ev := q.items[0]
	q.items[0] = internal.StoreEvent{}
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}
