package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClockUnavailable is returned when the time source cannot be queried.
var ErrClockUnavailable = errors.New("clock unavailable")

// Clock reports the current wall time in milliseconds since the epoch.
type Clock interface {
	NowMillis(ctx context.Context) (int64, error)
}

// Func adapts a plain function to the Clock interface. Errors returned by
// the function are wrapped in ErrClockUnavailable.
type Func func(ctx context.Context) (int64, error)

func (f Func) NowMillis(ctx context.Context) (int64, error) {
	if f == nil {
		return 0, ErrClockUnavailable
	}
	ms, err := f(ctx)
	if err != nil {
		if errors.Is(err, ErrClockUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	return ms, nil
}

type system struct{}

// System returns a Clock backed by the local wall clock.
func System() Clock {
	return system{}
}

func (system) NowMillis(ctx context.Context) (int64, error) {
	return time.Now().UnixMilli(), nil
}

// Manual is a Clock whose time only moves when told to. It is used to
// drive deterministic tests.
type Manual struct {
	mu   sync.Mutex
	now  int64
	fail error
}

func NewManual(startMillis int64) *Manual {
	return &Manual{now: startMillis}
}

func (m *Manual) NowMillis(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, fmt.Errorf("%w: %v", ErrClockUnavailable, m.fail)
	}
	return m.now, nil
}

// Set moves the clock to an absolute time, backwards included.
func (m *Manual) Set(millis int64) {
	m.mu.Lock()
	m.now = millis
	m.mu.Unlock()
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d.Milliseconds()
	m.mu.Unlock()
}

// Fail makes every subsequent read return err until Fail(nil) is called.
func (m *Manual) Fail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}
