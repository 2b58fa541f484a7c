package ratelimit

import (
	"context"

	"github.com/AndySung320/bucketstore/internal/clock"
)

// Bucket is the persisted state of a token bucket.
//
// Value is the number of tokens available at LastFill. One token is added
// every FillRate milliseconds, up to Capacity. Capacity and FillRate never
// change after creation.
type Bucket struct {
	Value    int64
	Capacity int64
	FillRate int64 // milliseconds per token
	LastFill int64 // unix ms
}

// NewBucket creates an empty bucket whose fill clock starts now.
func NewBucket(ctx context.Context, clk clock.Clock, capacity, fillRate int64) (*Bucket, error) {
	if fillRate <= 0 {
		return nil, invalidArgument("'fill_rate' must be greater than 0, got %d", fillRate)
	}
	if capacity < 0 {
		return nil, invalidArgument("'capacity' must be 0 or greater, got %d", capacity)
	}

	now, err := clk.NowMillis(ctx)
	if err != nil {
		return nil, err
	}

	return &Bucket{
		Value:    0,
		Capacity: capacity,
		FillRate: fillRate,
		LastFill: now,
	}, nil
}

// Refill projects the bucket forward to now without modifying it.
//
// LastFill only advances by whole multiples of FillRate so that partial
// progress toward the next token carries over to the following call.
// A clock that moved backwards adds nothing.
func (b *Bucket) Refill(now int64) (value, lastFill int64) {
	elapsed := now - b.LastFill
	if elapsed < 0 {
		elapsed = 0
	}
	additions := elapsed / b.FillRate
	lastFill = b.LastFill + additions*b.FillRate
	return min(b.Value+additions, b.Capacity), lastFill
}

// Take withdraws tokens and reports how many were granted.
//
// Tokens are granted only when the projected value is strictly greater than
// the request, so a bucket is never drained to exactly zero. A refusal
// returns 0 and leaves the bucket untouched.
func (b *Bucket) Take(ctx context.Context, clk clock.Clock, tokens int64) (int64, error) {
	if tokens < 1 {
		return 0, invalidArgument("'tokens' must be 1 or greater, got %d", tokens)
	}

	now, err := clk.NowMillis(ctx)
	if err != nil {
		return 0, err
	}

	value, lastFill := b.Refill(now)
	if value > tokens {
		b.Value = value - tokens
		b.LastFill = lastFill
		return tokens, nil
	}
	return 0, nil
}

// Peek returns the projected token count without modifying the bucket.
func (b *Bucket) Peek(ctx context.Context, clk clock.Clock) (int64, error) {
	now, err := clk.NowMillis(ctx)
	if err != nil {
		return 0, err
	}
	value, _ := b.Refill(now)
	return value, nil
}
