// Copyright (c) 2025 A Bit of Help, Inc.

// Package queue provides the FIFO buffer shared by the sampling producer and
// the batch writer.
package queue

import "sync"

// BatchQueue is an unbounded FIFO safe for concurrent use. Push and DrainUpTo
// are atomic with respect to each other: an entry is returned by exactly one
// drain and never observed again. The lock is held only while the backing
// slice is mutated, never during I/O or encryption.
type BatchQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New returns an empty queue.
func New[T any]() *BatchQueue[T] {
	return &BatchQueue[T]{}
}

// Push appends item to the tail of the queue.
func (q *BatchQueue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// DrainUpTo removes and returns up to n of the oldest entries, oldest first.
// It returns nil when the queue is empty or n < 1.
func (q *BatchQueue[T]) DrainUpTo(n int) []T {
	if n < 1 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	k := min(n, len(q.items))
	if k == 0 {
		return nil
	}

	out := make([]T, k)
	copy(out, q.items[:k])

	// Drop references held by the backing array so drained entries can be collected.
	var zero T
	for i := range k {
		q.items[i] = zero
	}
	q.items = q.items[k:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

// Len returns the number of pending entries.
func (q *BatchQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
