// Package memory implements an in-memory backend.Backend. It is the
// reference backend for tests and single-process use; CAS is guarded by
// a single mutex.
package memory

import (
	"bytes"
	"sync"

	"kv/pkg/backend"
)

// Backend is an in-memory, mutex-guarded implementation of backend.Backend.
// Multiple Handles/goroutines in the same process may share one Backend
// safely; it does not persist across process restarts.
type Backend struct {
	mu   sync.Mutex
	data map[string][]byte
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

func (b *Backend) Get(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (b *Backend) Set(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = cloneBytes(value)
	return nil
}

func (b *Backend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *Backend) GetMany(keys []string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := b.data[k]; ok {
			out[k] = cloneBytes(v)
		}
	}
	return out, nil
}

func (b *Backend) SetMany(values map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.data[k] = cloneBytes(v)
	}
	return nil
}

func (b *Backend) RemoveMany(keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, k)
	}
	return nil
}

func (b *Backend) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.data))
	for k := range b.data {
		out = append(out, k)
	}
	return out, nil
}

func (b *Backend) Items() ([]backend.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]backend.Item, 0, len(b.data))
	for k, v := range b.data {
		out = append(out, backend.Item{Key: k, Value: cloneBytes(v)})
	}
	return out, nil
}

func (b *Backend) Contains(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok, nil
}

// CAS is linearizable by construction: the whole check-and-set happens
// while holding b.mu, so two concurrent CAS calls on the same key never
// interleave.
func (b *Backend) CAS(key string, newValue []byte, expected []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, exists := b.data[key]
	if expected == nil {
		if exists {
			return false, nil
		}
	} else {
		if !exists || !bytes.Equal(current, expected) {
			return false, nil
		}
	}
	b.data[key] = cloneBytes(newValue)
	return true, nil
}

func (b *Backend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string][]byte)
	return nil
}

func cloneBytes(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
