// Package ioengine implements the per-thread edge-triggered I/O loop:
// IOThread's four-phase run cycle and the round-robin IOThreadPool that
// dispatches new channel pairs across a fixed set of threads.
package ioengine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/vsockbridge/socket"
)

// pendingPair is one (socketA, socketB) awaiting adoption by an IOThread.
type pendingPair struct {
	a, b *socket.Socket
}

// boundedRing is a fixed-capacity circular buffer with atomic head/tail
// cursors, adapted from the teacher's internal/concurrency/ring.go
// RingBuffer[T]. That type is documented safe for one producer and one
// consumer; AdoptionQueue has many producers (every listener goroutine
// dispatching a fresh pair) and a single consumer (the owning IOThread), so
// AdoptionQueue.mu serializes producers into a single logical writer before
// they ever touch the ring — dequeue stays lock-free against that writer.
type boundedRing struct {
	data []pendingPair
	mask uint64
	head atomic.Uint64
	_    [64]byte
	tail atomic.Uint64
	_    [64]byte
}

func newBoundedRing(capacity int) *boundedRing {
	if capacity <= 0 {
		capacity = 4096
	}
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &boundedRing{data: make([]pendingPair, size), mask: size - 1}
}

// enqueue adds item, returning false if the ring is at capacity. The caller
// must serialize concurrent calls (AdoptionQueue.Push holds mu).
func (r *boundedRing) enqueue(item pendingPair) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// dequeue removes and returns the oldest item. Safe to call from a single
// consumer running concurrently with enqueue.
func (r *boundedRing) dequeue() (pendingPair, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head >= tail {
		return pendingPair{}, false
	}
	item := r.data[head&r.mask]
	r.head.Store(head + 1)
	return item, true
}

// AdoptionQueue is the thread-safe FIFO an IOThread drains each iteration.
// Enqueue happens from any goroutine (listener/dispatcher); Dequeue happens
// only from the owning IOThread.
type AdoptionQueue struct {
	mu   sync.Mutex
	ring *boundedRing
}

// NewAdoptionQueue builds a queue admitting capacity outstanding pairs,
// rounded up to the next power of two (4096 when capacity <= 0), before
// Push starts reporting ErrQueueFull.
func NewAdoptionQueue(capacity int) *AdoptionQueue {
	return &AdoptionQueue{ring: newBoundedRing(capacity)}
}

// ErrQueueFull is returned by Push when the queue is at capacity.
var ErrQueueFull = fmt.Errorf("adoption queue full")

// Push enqueues a pair for adoption by the owning IOThread.
func (aq *AdoptionQueue) Push(a, b *socket.Socket) error {
	aq.mu.Lock()
	ok := aq.ring.enqueue(pendingPair{a: a, b: b})
	aq.mu.Unlock()
	if !ok {
		return ErrQueueFull
	}
	return nil
}

// DrainInto pops every currently queued pair and appends them to out,
// returning the extended slice. Called once per IOThread iteration, always
// from the same owning goroutine, so it needs no lock of its own — only
// Push's producer-side writes need mutual exclusion.
func (aq *AdoptionQueue) DrainInto(out []pendingPair) []pendingPair {
	for {
		item, ok := aq.ring.dequeue()
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}
