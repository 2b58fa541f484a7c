package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_GetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	err = s.Update(ctx, "a", func(current []byte, exists bool) ([]byte, error) {
		assert.False(t, exists)
		assert.Nil(t, current)
		return []byte("one"), nil
	})
	require.NoError(t, err)

	err = s.Update(ctx, "a", func(current []byte, exists bool) ([]byte, error) {
		assert.True(t, exists)
		assert.Equal(t, []byte("one"), current)
		return []byte("two"), nil
	})
	require.NoError(t, err)

	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)

	deleted, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStorage_UpdateNilLeavesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	require.NoError(t, s.Update(ctx, "a", func([]byte, bool) ([]byte, error) { return []byte("x"), nil }))

	require.NoError(t, s.Update(ctx, "a", func([]byte, bool) ([]byte, error) { return nil, nil }))
	v, _ := s.Get(ctx, "a")
	assert.Equal(t, []byte("x"), v)

	require.NoError(t, s.Update(ctx, "b", func([]byte, bool) ([]byte, error) { return nil, nil }))
	_, err := s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStorage_UpdateErrorLeavesValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	require.NoError(t, s.Update(ctx, "a", func([]byte, bool) ([]byte, error) { return []byte("x"), nil }))

	boom := errors.New("boom")
	err := s.Update(ctx, "a", func([]byte, bool) ([]byte, error) { return []byte("y"), boom })
	assert.ErrorIs(t, err, boom)

	v, _ := s.Get(ctx, "a")
	assert.Equal(t, []byte("x"), v)
}

func TestMemoryStorage_OwnsItsBytes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	in := []byte("abc")
	require.NoError(t, s.Update(ctx, "a", func([]byte, bool) ([]byte, error) { return in, nil }))
	in[0] = 'z'

	out, _ := s.Get(ctx, "a")
	assert.Equal(t, []byte("abc"), out)
	out[0] = 'q'

	again, _ := s.Get(ctx, "a")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryStorage_ConcurrentUpdatesAreExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "counter", func(current []byte, exists bool) ([]byte, error) {
				n := byte(0)
				if exists {
					n = current[0]
				}
				return []byte{n + 1}, nil
			})
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, byte(50), v[0])
}

func TestMemoryStorage_Scan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	for _, k := range []string{"a", "b", "c"} {
		key := k
		require.NoError(t, s.Update(ctx, key, func([]byte, bool) ([]byte, error) { return []byte(key), nil }))
	}

	seen := map[string]string{}
	err := s.Scan(ctx, func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "a", "b": "b", "c": "c"}, seen)

	stop := errors.New("stop")
	err = s.Scan(ctx, func(string, []byte) error { return stop })
	assert.ErrorIs(t, err, stop)
}
