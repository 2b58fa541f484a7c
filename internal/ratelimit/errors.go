package ratelimit

import (
	"errors"
	"fmt"

	"github.com/AndySung320/bucketstore/internal/clock"
	"github.com/AndySung320/bucketstore/internal/storage"
)

var (
	// ErrInvalidArgument is returned for out-of-range user input such as a
	// non-positive fill rate or a token count below one.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorruptData is returned when a stored value cannot be decoded or
	// holds fields no bucket can have.
	ErrCorruptData = errors.New("corrupt bucket data")

	// ErrKeyNotFound is returned when a command addresses a key with no bucket.
	ErrKeyNotFound = storage.ErrKeyNotFound

	// ErrClockUnavailable is returned when the time source cannot be read.
	ErrClockUnavailable = clock.ErrClockUnavailable
)

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CorruptDataError reports a stored value whose length does not match the
// fixed bucket encoding.
type CorruptDataError struct {
	Got  int
	Want int
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt bucket data: expected %d bytes, got %d", e.Want, e.Got)
}

func (e *CorruptDataError) Unwrap() error {
	return ErrCorruptData
}
