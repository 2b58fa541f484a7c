package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps values in a map. Updates are serialized by a single
// mutex, which is enough for the O(1) work done inside an UpdateFunc.
type MemoryStorage struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return clone(v), nil
}

// Update holds the store lock while fn runs, so fn must not call back into
// the store.
func (m *MemoryStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.values[key]
	next, err := fn(clone(current), exists)
	if err != nil {
		return err
	}
	if next != nil {
		m.values[key] = clone(next)
	}
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.values[key]
	delete(m.values, key)
	return ok, nil
}

// Scan iterates over a copy of the map taken under the lock.
func (m *MemoryStorage) Scan(ctx context.Context, fn func(key string, value []byte) error) error {
	m.mu.Lock()
	snapshot := make(map[string][]byte, len(m.values))
	for k, v := range m.values {
		snapshot[k] = clone(v)
	}
	m.mu.Unlock()

	for k, v := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
