// Package mem is the engine's memory collaborator. Every buffer the
// attention engine owns is obtained through an Allocator so that
// allocation failures surface as errors and live bytes stay accounted.
package mem

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// ErrAllocation is returned when an allocator cannot satisfy a request.
var ErrAllocation = errors.New("allocation failure")

// Allocator hands out and reclaims buffers. Implementations must accept
// Release calls for any buffer they handed out, including during
// partial-failure cleanup.
type Allocator interface {
	Floats(n int) ([]float32, error)
	Bytes(n int) ([]byte, error)
	ReleaseFloats(buf []float32)
	ReleaseBytes(buf []byte)
}

// Tracking is the default Allocator. It keeps an atomic count of live
// bytes, mirrors it into the metrics gauge, and can enforce a budget.
type Tracking struct {
	live  atomic.Int64
	limit int64 // 0 means unlimited
}

// NewTracking returns a Tracking allocator with the given byte budget.
// A limit of 0 disables the budget.
func NewTracking(limit int64) *Tracking {
	return &Tracking{limit: limit}
}

var defaultAllocator = NewTracking(0)

// Default returns the shared process allocator.
func Default() *Tracking {
	return defaultAllocator
}

func (t *Tracking) reserve(n int64) error {
	newVal := t.live.Add(n)
	if t.limit > 0 && newVal > t.limit {
		t.live.Add(-n)
		return fmt.Errorf("%w: %d bytes requested, %d in use, limit %d",
			ErrAllocation, n, newVal-n, t.limit)
	}
	metrics.RecordAllocatedBytes(t.live.Load())
	return nil
}

func (t *Tracking) release(n int64) {
	t.live.Add(-n)
	metrics.RecordAllocatedBytes(t.live.Load())
}

// Floats allocates a zeroed float32 buffer of length n.
func (t *Tracking) Floats(n int) ([]float32, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, n)
	}
	if err := t.reserve(int64(n) * 4); err != nil {
		return nil, err
	}
	return make([]float32, n), nil
}

// Bytes allocates a zeroed byte buffer of length n.
func (t *Tracking) Bytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, n)
	}
	if err := t.reserve(int64(n)); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

// ReleaseFloats returns a float buffer to the accounting.
func (t *Tracking) ReleaseFloats(buf []float32) {
	if buf == nil {
		return
	}
	t.release(int64(cap(buf)) * 4)
}

// ReleaseBytes returns a byte buffer to the accounting.
func (t *Tracking) ReleaseBytes(buf []byte) {
	if buf == nil {
		return
	}
	t.release(int64(cap(buf)))
}

// LiveBytes reports the bytes currently held through this allocator.
func (t *Tracking) LiveBytes() int64 {
	return t.live.Load()
}
