package store

import (
	"encoding/json"
	"fmt"
)

// Values are held as decoded JSON: map[string]any, []any, string, float64, bool.
// Nulls and empty objects do not exist in the tree; writing one deletes the path.

func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return prune(decoded), nil
}

func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if child = prune(child); child == nil {
			delete(m, k)
		} else {
			m[k] = child
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func getAt(root map[string]any, segs []string) any {
	var cur any = root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[s]; !ok {
			return nil
		}
	}
	if m, ok := cur.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return cur
}

// setAt writes v at segs below m, creating intermediate objects and pruning the
// ones a delete leaves empty. segs must not be empty.
func setAt(m map[string]any, segs []string, v any) map[string]any {
	key := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(m, key)
			return m
		}
		if m == nil {
			m = make(map[string]any)
		}
		m[key] = v
		return m
	}

	child, isMap := m[key].(map[string]any)
	if v == nil && !isMap {
		// Nothing to delete below a scalar or an absent node.
		return m
	}
	child = setAt(child, segs[1:], v)
	if len(child) == 0 {
		delete(m, key)
		return m
	}
	if m == nil {
		m = make(map[string]any)
	}
	m[key] = child
	return m
}

func encode(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
