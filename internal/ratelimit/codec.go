package ratelimit

import (
	"encoding/binary"
	"fmt"
)

// EncodedSize is the length of every encoded bucket: four big-endian int64
// fields in the order value, capacity, fill rate, last fill.
const EncodedSize = 32

// Encode serializes b into its fixed 32-byte form.
func Encode(b *Bucket) []byte {
	buf := make([]byte, EncodedSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(b.Value))
	binary.BigEndian.PutUint64(buf[8:16], uint64(b.Capacity))
	binary.BigEndian.PutUint64(buf[16:24], uint64(b.FillRate))
	binary.BigEndian.PutUint64(buf[24:32], uint64(b.LastFill))
	return buf
}

// Decode reconstructs a bucket from the output of Encode. A value that
// NewBucket could never have produced (fill rate not positive, negative
// capacity) is rejected as corrupt.
func Decode(data []byte) (*Bucket, error) {
	if len(data) != EncodedSize {
		return nil, &CorruptDataError{Got: len(data), Want: EncodedSize}
	}
	b := &Bucket{
		Value:    int64(binary.BigEndian.Uint64(data[0:8])),
		Capacity: int64(binary.BigEndian.Uint64(data[8:16])),
		FillRate: int64(binary.BigEndian.Uint64(data[16:24])),
		LastFill: int64(binary.BigEndian.Uint64(data[24:32])),
	}
	if b.FillRate <= 0 {
		return nil, fmt.Errorf("%w: fill rate %d is not positive", ErrCorruptData, b.FillRate)
	}
	if b.Capacity < 0 {
		return nil, fmt.Errorf("%w: capacity %d is negative", ErrCorruptData, b.Capacity)
	}
	return b, nil
}

// ValueType is the persistence contract a host store needs for buckets.
// An implementation is chosen once at process start and handed to every
// component that reads or writes stored values.
type ValueType interface {
	// Name identifies the type in snapshots.
	Name() string
	EncodingVersion() int
	// Load materializes a bucket from stored bytes. Malformed input yields
	// an error, never a panic.
	Load(data []byte) (*Bucket, error)
	// Save serializes b. It has no side effects and does not refill.
	Save(b *Bucket) []byte
	// Release is called once the host is done with a decoded bucket.
	Release(b *Bucket)
}

// BucketType is the ValueType for token buckets.
type BucketType struct{}

var _ ValueType = BucketType{}

func (BucketType) Name() string { return "dg-Bucket" }

func (BucketType) EncodingVersion() int { return 0 }

func (BucketType) Load(data []byte) (*Bucket, error) {
	return Decode(data)
}

func (BucketType) Save(b *Bucket) []byte {
	return Encode(b)
}

func (BucketType) Release(b *Bucket) {
	if b != nil {
		*b = Bucket{}
	}
}
