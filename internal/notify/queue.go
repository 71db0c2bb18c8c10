// Package notify delivers order notifications: an in-process FIFO drained by
// the strategy and an optional NATS fan-out for external consumers.
package notify

import "sync"

// Queue is an unbounded FIFO. Publish never blocks and Poll never waits.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

// NewQueue creates an empty queue
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Publish appends v to the tail
func (q *Queue[T]) Publish(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// Poll removes and returns the head, or false when empty
func (q *Queue[T]) Poll() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.head == len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++

	// compact once the consumed prefix dominates
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return v, true
}

// Len returns the number of pending items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
