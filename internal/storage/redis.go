package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/AndySung320/bucketstore/internal/clock"
)

//go:embed compare_and_set.lua
var compareAndSetScript string

const (
	scriptCompareAndSet = "compare_and_set"

	defaultKeyPrefix  = "bucket:"
	defaultMaxRetries = 16
	defaultScanCount  = 100
)

// RedisOptions configures a RedisStorage.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	MaxRetries int
}

// RedisStorage stores values as plain Redis strings. Per-key exclusivity
// for Update comes from an optimistic compare-and-set script.
type RedisStorage struct {
	client     RedisClient
	prefix     string
	maxRetries int
	log        logrus.FieldLogger

	mu      sync.Mutex
	scripts map[string]*ScriptInfo // Registry of all scripts
}

type ScriptInfo struct {
	Name     string
	SHA      string
	Content  string
	LoadedAt time.Time
}

func NewRedisStorage(ctx context.Context, opts RedisOptions, log logrus.FieldLogger) (*RedisStorage, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	r := newRedisStorage(rdb, opts, log)
	if err := r.Ping(ctx); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	// Load all scripts at startup
	if err := r.LoadScript(ctx, scriptCompareAndSet, compareAndSetScript); err != nil {
		rdb.Close()
		return nil, err
	}
	return r, nil
}

func newRedisStorage(client RedisClient, opts RedisOptions, log logrus.FieldLogger) *RedisStorage {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &RedisStorage{
		client:     client,
		prefix:     prefix,
		maxRetries: retries,
		log:        log,
		scripts:    make(map[string]*ScriptInfo),
	}
}

func (r *RedisStorage) LoadScript(ctx context.Context, name, content string) error {
	sha, err := r.client.ScriptLoad(ctx, content).Result()
	if err != nil {
		return fmt.Errorf("load script '%s': %w", name, err)
	}

	r.mu.Lock()
	r.scripts[name] = &ScriptInfo{
		Name:     name,
		SHA:      sha,
		Content:  content,
		LoadedAt: time.Now(),
	}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"script": name, "sha": sha}).Info("Loaded redis script")
	return nil
}

func (r *RedisStorage) ExecuteScript(ctx context.Context, scriptName string, keys []string, args ...interface{}) (interface{}, error) {
	r.mu.Lock()
	script, exists := r.scripts[scriptName]
	r.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("script '%s' not found", scriptName)
	}

	result, err := r.client.EvalSha(ctx, script.SHA, keys, args...).Result()

	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		// Reload and retry
		r.log.WithField("script", scriptName).Warn("Reloading redis script")
		if err := r.LoadScript(ctx, scriptName, script.Content); err != nil {
			return nil, err
		}
		r.mu.Lock()
		sha := r.scripts[scriptName].SHA
		r.mu.Unlock()

		result, err = r.client.EvalSha(ctx, sha, keys, args...).Result()
	}

	return result, err
}

func (r *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.bucketKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Update reads the key, runs fn, and writes the result only if the key
// still holds what was read. A lost race re-reads and runs fn again.
func (r *RedisStorage) Update(ctx context.Context, key string, fn UpdateFunc) error {
	k := r.bucketKey(key)

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		current, err := r.client.Get(ctx, k).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = nil
		} else if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}

		expected := string(current)
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		existsFlag := "0"
		if exists {
			existsFlag = "1"
		}
		result, err := r.ExecuteScript(ctx, scriptCompareAndSet, []string{k}, expected, existsFlag, next)
		if err != nil {
			return fmt.Errorf("redis compare-and-set %s: %w", key, err)
		}
		if swapped, _ := result.(int64); swapped == 1 {
			return nil
		}

		r.log.WithFields(logrus.Fields{"key": key, "attempt": attempt}).Debug("Compare-and-set lost race, retrying")
	}

	return fmt.Errorf("%w: key %s after %d attempts", ErrConflict, key, r.maxRetries)
}

func (r *RedisStorage) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.bucketKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *RedisStorage) Scan(ctx context.Context, fn func(key string, value []byte) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", defaultScanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}

		for _, k := range keys {
			v, err := r.client.Get(ctx, k).Bytes()
			if errors.Is(err, redis.Nil) {
				// Deleted between SCAN and GET.
				continue
			}
			if err != nil {
				return fmt.Errorf("redis get %s: %w", k, err)
			}
			if err := fn(strings.TrimPrefix(k, r.prefix), v); err != nil {
				return err
			}
		}

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Clock reads the time from the Redis server so that every process sharing
// the store agrees on "now".
func (r *RedisStorage) Clock() clock.Clock {
	return clock.Func(func(ctx context.Context) (int64, error) {
		t, err := r.client.Time(ctx).Result()
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	})
}

func (r *RedisStorage) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) bucketKey(key string) string {
	return r.prefix + key
}
