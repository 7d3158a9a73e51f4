// Package queue implements a fixed-capacity handoff between the acceptor
// goroutine and the worker pool: a circular buffer synchronized with a
// pair of counting semaphores (free slots and filled slots) plus a plain
// mutex guarding the ring buffer's head/tail indices.
package queue

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Insert once the queue has been closed. A closed
// queue does not wake Remove; see Close.
var ErrClosed = errors.New("queue: closed")

// Queue is a fixed-capacity FIFO ring buffer of accepted connections.
type Queue struct {
	mu     sync.Mutex
	buf    []net.Conn
	head   int
	tail   int
	count  int
	free   *semaphore.Weighted
	filled *semaphore.Weighted
	closed bool
}

// New constructs a Queue with the given fixed capacity.
func New(capacity int) *Queue {
	q := &Queue{
		buf:    make([]net.Conn, capacity),
		free:   semaphore.NewWeighted(int64(capacity)),
		filled: semaphore.NewWeighted(int64(capacity)),
	}
	// No slot is filled yet: hold every filled-slot token so Remove blocks
	// until Insert releases one.
	q.filled.TryAcquire(int64(capacity))
	return q
}

// Insert blocks until a slot is free (or ctx is done) and then appends
// conn to the tail.
func (q *Queue) Insert(ctx context.Context, conn net.Conn) error {
	if err := q.free.Acquire(ctx, 1); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.free.Release(1)
		return ErrClosed
	}
	q.buf[q.tail] = conn
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.mu.Unlock()

	q.filled.Release(1)
	return nil
}

// Remove blocks until an item is available (or ctx is done) and then pops
// the head connection.
func (q *Queue) Remove(ctx context.Context) (net.Conn, error) {
	if err := q.filled.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.count == 0 {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	conn := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.mu.Unlock()

	q.free.Release(1)
	return conn, nil
}

// Close marks the queue closed so later Inserts fail with ErrClosed. It
// does not wake workers blocked in Remove on an empty queue: they return
// their context's error once the context passed to Remove is canceled,
// which is how shutdown stops them (see internal/worker).
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len reports the number of connections currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
