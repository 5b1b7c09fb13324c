// Package outbuf accumulates encoder output for one session.
package outbuf

import (
	"errors"
	"fmt"
)

var ErrAllocation = errors.New("output buffer limit exceeded")

// minCapacity keeps tiny inputs from starting with a zero sized buffer;
// maxEstimate bounds what is reserved up front. Growth past it is on demand.
const (
	minCapacity = 512
	maxEstimate = 64 << 20
)

// Buffer is an append-only byte accumulator. Its initial capacity is an
// estimate (input size times an expansion factor); it grows past the estimate
// on demand. A positive limit bounds the total length, and an append that
// would pass it fails with ErrAllocation and leaves the buffer unchanged.
type Buffer struct {
	data  []byte
	limit int
}

// New sizes the buffer for inputSize bytes of input expanding by factor.
// limit <= 0 means unbounded.
func New(inputSize int, factor float64, limit int) *Buffer {
	est := minCapacity
	if inputSize > 0 && factor > 0 {
		n := float64(inputSize) * factor
		switch {
		case n > maxEstimate:
			est = maxEstimate
		case int(n) > est:
			est = int(n)
		}
	}
	if limit > 0 && est > limit {
		est = limit
	}
	return &Buffer{data: make([]byte, 0, est), limit: limit}
}

// Append adds p at the write offset.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if b.limit > 0 && len(b.data)+len(p) > b.limit {
		return fmt.Errorf("%w: %d + %d bytes over limit %d", ErrAllocation, len(b.data), len(p), b.limit)
	}
	b.data = append(b.data, p...)
	return nil
}

// Len is the write offset: the exact number of bytes appended.
func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the contents trimmed to Len. The result shares memory with the
// buffer and has no spare capacity.
func (b *Buffer) Bytes() []byte {
	return b.data[:len(b.data):len(b.data)]
}
