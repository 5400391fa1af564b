package platform

import (
	"context"
	"encoding/json"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Storage is the asynchronous key-value store the engine persists into.
// Values are JSON documents.
type Storage interface {
	// Get returns the stored values for keys; missing keys are absent from the map.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set stores every entry of record.
	Set(ctx context.Context, record map[string]json.RawMessage) error

	// Remove deletes keys; missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	items cmap.ConcurrentMap[string, []byte]
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: cmap.New[[]byte]()}
}

func (m *MemoryStorage) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.items.Get(k); ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out, nil
}

func (m *MemoryStorage) Set(ctx context.Context, record map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for k, v := range record {
		m.items.Set(k, append([]byte(nil), v...))
	}
	return nil
}

func (m *MemoryStorage) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, k := range keys {
		m.items.Remove(k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	return m.items.Count()
}
