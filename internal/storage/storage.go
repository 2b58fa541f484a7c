package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrKeyNotFound is returned when a key holds no value.
	ErrKeyNotFound = errors.New("key not found")

	// ErrConflict is returned when an update kept losing races for the same
	// key and gave up.
	ErrConflict = errors.New("concurrent update conflict")
)

// UpdateFunc receives the current value of a key, or exists=false when the
// key is absent, and returns the value to store. Returning a nil slice
// leaves the key unchanged. The current slice is owned by the callee.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Storage is the host key-value store. Values are opaque byte blobs; the
// store is their only long-lived owner.
type Storage interface {
	// Get returns a copy of the value at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Update runs fn with exclusive access to key. No other Update on the
	// same key interleaves with it.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Scan calls fn for every stored key. Order is unspecified.
	Scan(ctx context.Context, fn func(key string, value []byte) error) error
	Ping(ctx context.Context) error
	Close() error
}

type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
	Time(ctx context.Context) *redis.TimeCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var (
	_ Storage     = (*MemoryStorage)(nil)
	_ Storage     = (*RedisStorage)(nil)
	_ Storage     = (*SQLiteStorage)(nil)
	_ RedisClient = (*redis.Client)(nil)
)
