package ratelimit

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/AndySung320/bucketstore/internal/clock"
	"github.com/AndySung320/bucketstore/internal/storage"
)

// Limiter runs bucket commands against a host store. It keeps no bucket
// state of its own: every call decodes the stored value, works on that
// private copy and writes the result back.
type Limiter struct {
	store storage.Storage
	clock clock.Clock
	vt    ValueType
	log   logrus.FieldLogger
}

func NewLimiter(store storage.Storage, clk clock.Clock, vt ValueType, log logrus.FieldLogger) *Limiter {
	return &Limiter{
		store: store,
		clock: clk,
		vt:    vt,
		log:   log,
	}
}

// Create stores a new empty bucket at key, replacing whatever was there.
func (l *Limiter) Create(ctx context.Context, key string, capacity, fillRate int64) error {
	b, err := NewBucket(ctx, l.clock, capacity, fillRate)
	if err != nil {
		return err
	}
	defer l.vt.Release(b)

	err = l.store.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		if exists {
			l.log.WithField("key", key).Info("Replacing existing bucket")
		}
		return l.vt.Save(b), nil
	})
	if err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"key":       key,
		"capacity":  b.Capacity,
		"fill_rate": b.FillRate,
		"last_fill": b.LastFill,
	}).Info("Created bucket")
	return nil
}

// Ensure creates a bucket at key only if the key is empty. It reports
// whether a bucket was created.
func (l *Limiter) Ensure(ctx context.Context, key string, capacity, fillRate int64) (bool, error) {
	b, err := NewBucket(ctx, l.clock, capacity, fillRate)
	if err != nil {
		return false, err
	}
	defer l.vt.Release(b)

	var created bool
	err = l.store.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		created = !exists
		if exists {
			return nil, nil
		}
		return l.vt.Save(b), nil
	})
	if err != nil {
		return false, err
	}
	if created {
		l.log.WithFields(logrus.Fields{
			"key":       key,
			"capacity":  b.Capacity,
			"fill_rate": b.FillRate,
		}).Info("Created declared bucket")
	}
	return created, nil
}

// Take withdraws tokens from the bucket at key and returns the number
// granted. A refusal returns 0 and writes nothing.
func (l *Limiter) Take(ctx context.Context, key string, tokens int64) (int64, error) {
	if tokens < 1 {
		return 0, invalidArgument("'tokens' must be 1 or greater, got %d", tokens)
	}

	var granted int64
	err := l.store.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		granted = 0
		if !exists {
			return nil, ErrKeyNotFound
		}

		b, err := l.vt.Load(current)
		if err != nil {
			return nil, err
		}
		defer l.vt.Release(b)

		entry := l.log.WithField("key", key)
		entry.WithField("bucket", *b).Debug("Read bucket")

		granted, err = b.Take(ctx, l.clock, tokens)
		if err != nil {
			return nil, err
		}
		entry.WithFields(logrus.Fields{"granted": granted, "bucket": *b}).Debug("Take")

		if granted == 0 {
			return nil, nil
		}
		return l.vt.Save(b), nil
	})
	if err != nil {
		return 0, err
	}
	return granted, nil
}

// Peek returns the projected token count at key. found is false when the
// key holds no bucket.
func (l *Limiter) Peek(ctx context.Context, key string) (value int64, found bool, err error) {
	data, err := l.store.Get(ctx, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	b, err := l.vt.Load(data)
	if err != nil {
		return 0, false, err
	}
	defer l.vt.Release(b)

	value, err = b.Peek(ctx, l.clock)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// Delete evicts the bucket at key.
func (l *Limiter) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := l.store.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if deleted {
		l.log.WithField("key", key).Info("Deleted bucket")
	}
	return deleted, nil
}
