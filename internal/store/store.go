// Package store defines the shared key-path tree every client coordinates through,
// and an in-process implementation of it.
//
// The contract is deliberately weak: last writer wins per path, change notifications
// are delivered at least once and in order per subscriber, and appends under a path
// are ordered by their generated keys. There are no transactions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
)

var (
	ErrDisconnected = errors.New("store: connection closed")
	ErrInvalidPath  = errors.New("store: invalid path")
	ErrClosed       = errors.New("store: closed")
)

// Unsubscribe cancels a subscription. It is safe to call more than once.
type Unsubscribe func()

type Store interface {
	// Get reads the whole subtree at path. An absent path yields a snapshot whose
	// Exists reports false, not an error.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set overwrites path with value. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// Update writes each field relative to path. Field keys may contain slashes,
	// so one update can touch several children; nil values delete.
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	// Push appends value under path with a generated, time-ordered key.
	Push(ctx context.Context, path string, value any) (string, error)
	// Subscribe calls fn with the current value at path and again after every change
	// at, above or below it.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)
	// OnDisconnectDelete registers path for deletion when this connection drops.
	OnDisconnectDelete(ctx context.Context, path string) error
	CancelOnDisconnect(ctx context.Context, path string) error
}

// Snapshot is an immutable, point-in-time value of a path.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

func (s Snapshot) Exists() bool {
	return len(s.Value) > 0 && string(s.Value) != "null"
}

func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// Child is one direct child of a snapshot.
type Child struct {
	Key   string
	Value json.RawMessage
}

func (c Child) Decode(v any) error {
	return json.Unmarshal(c.Value, v)
}

// Children returns the direct children ordered by key. Push keys sort in append
// order, so this is the order entries were appended in. A snapshot that is absent
// or not an object has no children.
func (s Snapshot) Children() []Child {
	if !s.Exists() {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(s.Value, &m); err != nil {
		return nil
	}
	children := make([]Child, 0, len(m))
	for k, v := range m {
		children = append(children, Child{Key: k, Value: v})
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Key < children[j].Key })
	return children
}
