// Package queue provides the multi-producer/single-consumer FIFO used to hand
// events from producer goroutines to the coordinator.
package queue

import "sync/atomic"

// DefaultCapacity is the buffer size used by callers that have no preference.
const DefaultCapacity = 256

// Queue is a bounded FIFO backed by a channel.
// Push never blocks; items pushed into a full queue are dropped and counted.
type Queue[T any] struct {
	items   chan T
	dropped atomic.Uint64
}

// New creates a queue holding up to capacity items.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Push enqueues item. Returns false if the queue was full and item was dropped.
func (q *Queue[T]) Push(item T) bool {
	select {
	case q.items <- item:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// TryPop dequeues the front item without blocking.
// The boolean is false if the queue was empty.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Drain hands every queued item to fn in FIFO order without blocking and
// returns how many items were consumed. Items pushed while draining may be
// included.
func (q *Queue[T]) Drain(fn func(T)) int {
	n := 0
	for {
		item, ok := q.TryPop()
		if !ok {
			return n
		}
		fn(item)
		n++
	}
}

// C exposes the receive side for select-based waiting.
func (q *Queue[T]) C() <-chan T {
	return q.items
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Dropped returns how many items were discarded because the queue was full.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
