// Package ring implements a fixed-capacity, power-of-two, single-producer/
// single-consumer ring buffer. No teacher file implements an SPSC ring
// directly — the teacher uses buffered Go channels (e.g. stateChangeChan in
// internal/orders/order_lifecycle.go) — but channels allocate internally and
// involve runtime scheduler coordination unsuitable for the sub-microsecond,
// no-allocation hot path spec §4.3 and §5 require, so this is written fresh
// using the same atomic/cache-line-separation idiom the teacher applies
// elsewhere (internal/orders/matching/hft_types.go's PriceLevelTree keeps
// mutable substructures apart; here head and tail are kept apart instead).
package ring

import "sync/atomic"

// cacheLinePad prevents false sharing between the producer's tail cursor and
// the consumer's head cursor by padding each to its own cache line.
type cacheLinePad [64 - 8]byte

// SPSC is a lock-free single-producer/single-consumer ring buffer of
// capacity cap (rounded up to the next power of two). Exactly one goroutine
// may call the push methods and exactly one (possibly different) goroutine
// may call the pop methods.
type SPSC[T any] struct {
	mask uint64
	buf  []T

	_    cacheLinePad
	head atomic.Uint64 // consumer-owned read cursor

	_ cacheLinePad
	tail atomic.Uint64 // producer-owned write cursor

	_        cacheLinePad
	dropped  atomic.Uint64 // count of pushes rejected because the ring was full
}

// New creates an SPSC ring whose capacity is the next power of two >= capHint
// (minimum 2).
func New[T any](capHint int) *SPSC[T] {
	c := nextPow2(capHint)
	if c < 2 {
		c = 2
	}
	return &SPSC[T]{
		mask: uint64(c - 1),
		buf:  make([]T, c),
	}
}

func nextPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// TryPush appends v. Returns false iff the ring is full; never blocks.
// Producer releases on the tail store (visible to the consumer's acquire
// load of tail); mirrors the consumer's release-on-head-store / producer's
// acquire-load-of-head pair used in TryPop.
func (r *SPSC[T]) TryPush(v T) bool {
	tail := r.tail.Load()
	head := r.head.Load() // acquire: must observe consumer's latest progress
	if tail-head >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1) // release
	return true
}

// TryPop removes and returns the oldest element. ok is false iff empty.
func (r *SPSC[T]) TryPop() (v T, ok bool) {
	head := r.head.Load()
	tail := r.tail.Load() // acquire: must observe producer's latest progress
	if head == tail {
		return v, false
	}
	v = r.buf[head&r.mask]
	r.head.Store(head + 1) // release
	return v, true
}

// TryPushBatch pushes as many elements of vs as fit, returning the count
// actually pushed.
func (r *SPSC[T]) TryPushBatch(vs []T) int {
	n := 0
	for _, v := range vs {
		if !r.TryPush(v) {
			break
		}
		n++
	}
	return n
}

// TryPopBatch pops up to len(out) elements into out, returning the count
// actually popped.
func (r *SPSC[T]) TryPopBatch(out []T) int {
	n := 0
	for n < len(out) {
		v, ok := r.TryPop()
		if !ok {
			break
		}
		out[n] = v
		n++
	}
	return n
}

// Len returns a best-effort occupancy count (may be stale under concurrent
// access from the other side, which is expected for monitoring use only).
func (r *SPSC[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring's fixed capacity.
func (r *SPSC[T]) Cap() int {
	return len(r.buf)
}

// Dropped returns the cumulative count of pushes rejected due to a full
// ring. Per spec §4.4, updates must never be dropped silently without
// observability: callers must surface this counter via telemetry.
func (r *SPSC[T]) Dropped() uint64 {
	return r.dropped.Load()
}
