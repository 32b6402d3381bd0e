package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Memory is an in-process shared tree. Clients talk to it through a Conn so their
// disconnect registrations can be honoured; the relay and tests may also use it
// directly.
//
// Notifications are queued while the tree lock is held and delivered by a single
// dispatcher goroutine, so every subscriber sees changes in mutation order and a
// callback may freely write back to the store.
type Memory struct {
	mu      sync.Mutex
	root    map[string]any
	subs    map[uint64]*subscription
	nextSub uint64
	hooks   []func(path string)
	newKey  func() string

	qmu      sync.Mutex
	qcond    *sync.Cond
	queue    []delivery
	inflight int
	closed   bool
	done     chan struct{}
}

type subscription struct {
	id     uint64
	path   string
	segs   []string
	fn     func(Snapshot)
	active atomic.Bool
}

type delivery struct {
	sub  *subscription
	snap Snapshot
}

type write struct {
	segs  []string
	value any
}

type MemoryOption func(*Memory)

// WithMutationHook registers fn to be called, outside any lock, with every path
// written or deleted.
func WithMutationHook(fn func(path string)) MemoryOption {
	return func(m *Memory) {
		m.hooks = append(m.hooks, fn)
	}
}

// WithKeyGenerator replaces the push key generator. Keys must sort in generation
// order for appends to stay ordered.
func WithKeyGenerator(fn func() string) MemoryOption {
	return func(m *Memory) {
		m.newKey = fn
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		root:   make(map[string]any),
		subs:   make(map[uint64]*subscription),
		newKey: func() string { return uuid.Must(uuid.NewV7()).String() },
		done:   make(chan struct{}),
	}
	m.qcond = sync.NewCond(&m.qmu)
	for _, opt := range opts {
		opt(m)
	}
	go m.run()
	return m
}

// =============================================================================
// TREE OPERATIONS
// =============================================================================

func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(segs), nil
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	segs, err := writablePath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return m.apply(ctx, []write{{segs: segs, value: v}})
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	base, err := SplitPath(path)
	if err != nil {
		return err
	}
	writes := make([]write, 0, len(fields))
	for key, value := range fields {
		rel, err := SplitPath(key)
		if err != nil {
			return err
		}
		segs := append(append([]string{}, base...), rel...)
		if len(segs) == 0 {
			return ErrInvalidPath
		}
		v, err := normalize(value)
		if err != nil {
			return err
		}
		writes = append(writes, write{segs: segs, value: v})
	}
	if len(writes) == 0 {
		return nil
	}
	return m.apply(ctx, writes)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	segs, err := writablePath(path)
	if err != nil {
		return err
	}
	return m.apply(ctx, []write{{segs: segs}})
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key := m.newKey()
	if err := m.Set(ctx, JoinPath(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	sub, err := m.subscribe(ctx, path, fn)
	if err != nil {
		return nil, err
	}
	return func() { m.unsubscribe(sub) }, nil
}

func (m *Memory) subscribe(ctx context.Context, path string, fn func(Snapshot)) (*subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed() {
		return nil, ErrClosed
	}
	m.nextSub++
	sub := &subscription{id: m.nextSub, path: JoinPath(segs...), segs: segs, fn: fn}
	sub.active.Store(true)
	m.subs[sub.id] = sub
	m.enqueue(delivery{sub: sub, snap: m.snapshotLocked(segs)})
	return sub, nil
}

func (m *Memory) unsubscribe(sub *subscription) {
	sub.active.Store(false)
	m.mu.Lock()
	delete(m.subs, sub.id)
	m.mu.Unlock()
}

func (m *Memory) apply(ctx context.Context, writes []write) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		return ErrClosed
	}
	for _, w := range writes {
		m.root = setAt(m.root, w.segs, w.value)
	}
	for _, sub := range m.subs {
		if !sub.active.Load() {
			continue
		}
		for _, w := range writes {
			if related(sub.segs, w.segs) {
				m.enqueue(delivery{sub: sub, snap: m.snapshotLocked(sub.segs)})
				break
			}
		}
	}
	hooks := m.hooks
	m.mu.Unlock()

	for _, hook := range hooks {
		for _, w := range writes {
			hook(JoinPath(w.segs...))
		}
	}
	return nil
}

func (m *Memory) snapshotLocked(segs []string) Snapshot {
	return Snapshot{Path: JoinPath(segs...), Value: encode(getAt(m.root, segs))}
}

func writablePath(path string) ([]string, error) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, ErrInvalidPath
	}
	return segs, nil
}

// =============================================================================
// NOTIFICATION DISPATCH
// =============================================================================

func (m *Memory) enqueue(d delivery) {
	m.qmu.Lock()
	m.queue = append(m.queue, d)
	m.inflight++
	m.qcond.Broadcast()
	m.qmu.Unlock()
}

func (m *Memory) run() {
	defer close(m.done)
	for {
		m.qmu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.qcond.Wait()
		}
		if m.closed {
			m.queue = nil
			m.inflight = 0
			m.qcond.Broadcast()
			m.qmu.Unlock()
			return
		}
		d := m.queue[0]
		m.queue[0] = delivery{}
		m.queue = m.queue[1:]
		m.qmu.Unlock()

		m.deliver(d)

		m.qmu.Lock()
		m.inflight--
		m.qcond.Broadcast()
		m.qmu.Unlock()
	}
}

func (m *Memory) deliver(d delivery) {
	if !d.sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("path", d.sub.path).Interface("panic", r).Msg("[Memory.deliver] subscriber panicked")
		}
	}()
	d.sub.fn(d.snap)
}

// Sync blocks until every queued notification, including ones queued by callbacks
// while it waits, has been delivered. It must not be called from a subscriber.
func (m *Memory) Sync() {
	m.qmu.Lock()
	for m.inflight > 0 && !m.closed {
		m.qcond.Wait()
	}
	m.qmu.Unlock()
}

func (m *Memory) isClosed() bool {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.closed
}

// Close stops notification delivery. Pending notifications are dropped.
func (m *Memory) Close() {
	m.qmu.Lock()
	if m.closed {
		m.qmu.Unlock()
		return
	}
	m.closed = true
	m.qcond.Broadcast()
	m.qmu.Unlock()
	<-m.done
}

// =============================================================================
// CONNECTIONS
// =============================================================================

// Connect opens a client connection. Everything registered with
// OnDisconnectDelete through it is deleted when the connection is closed.
func (m *Memory) Connect() *Conn {
	return &Conn{
		m:            m,
		id:           uuid.NewString(),
		subs:         make(map[uint64]*subscription),
		onDisconnect: make(map[string][]string),
	}
}

// Conn is one client's view of a Memory. It implements Store.
type Conn struct {
	m  *Memory
	id string

	mu           sync.Mutex
	closed       bool
	subs         map[uint64]*subscription
	onDisconnect map[string][]string
}

var _ Store = (*Conn)(nil)

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	return nil
}

func (c *Conn) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := c.check(); err != nil {
		return Snapshot{}, err
	}
	return c.m.Get(ctx, path)
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.m.Set(ctx, path, value)
}

func (c *Conn) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.m.Update(ctx, path, fields)
}

func (c *Conn) Delete(ctx context.Context, path string) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.m.Delete(ctx, path)
}

func (c *Conn) Push(ctx context.Context, path string, value any) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	return c.m.Push(ctx, path, value)
}

func (c *Conn) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisconnected
	}
	sub, err := c.m.subscribe(ctx, path, fn)
	if err != nil {
		return nil, err
	}
	c.subs[sub.id] = sub
	return func() {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		c.m.unsubscribe(sub)
	}, nil
}

func (c *Conn) OnDisconnectDelete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := writablePath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	c.onDisconnect[JoinPath(segs...)] = segs
	return nil
}

func (c *Conn) CancelOnDisconnect(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := SplitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	delete(c.onDisconnect, JoinPath(segs...))
	return nil
}

// Close severs the connection: its subscriptions stop and its disconnect
// registrations run, as if the client's network had dropped. Closing twice is a
// no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, sub := range c.subs {
		sub.active.Store(false)
		delete(c.subs, id)
		c.m.mu.Lock()
		delete(c.m.subs, id)
		c.m.mu.Unlock()
	}
	writes := make([]write, 0, len(c.onDisconnect))
	for _, segs := range c.onDisconnect {
		writes = append(writes, write{segs: segs})
	}
	c.onDisconnect = nil
	c.mu.Unlock()

	if len(writes) == 0 {
		return nil
	}
	log.Debug().Str("conn", c.id).Int("paths", len(writes)).Msg("[Conn.Close] running disconnect cleanup")
	return c.m.apply(context.Background(), writes)
}
