// Package queue provides the unbounded FIFO connecting the worker's socket
// pump to the camera control loop. Producers never block on Put, so the
// control loop can emit frames faster than the socket drains them without
// stalling driver polls.
//
// End-of-stream is signalled by sentinel messages (close requests, the
// cam_closed event), not by closing the queue. Close exists only for final
// teardown: it releases the forwarding goroutine and may discard anything
// not yet consumed.
package queue

import "sync"

// Queue is an unbounded FIFO with a channel output. Put never blocks; the
// consumer receives items from Out in insertion order.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	out    chan T
	stop   chan struct{}
	closed bool
}

// New creates a queue and starts its forwarding goroutine.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		stop: make(chan struct{}),
	}
	go q.forward()
	return q
}

// Put appends an item. It is safe for concurrent use and never blocks.
// Put after Close is a no-op.
func (q *Queue[T]) Put(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Out returns the receive side of the queue. It is closed by Close; until
// then it delivers items in FIFO order.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Len reports the number of items not yet handed to the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close releases the queue. Items not yet consumed are discarded; Out is
// closed. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.stop)
}

func (q *Queue[T]) forward() {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		for _, v := range items {
			select {
			case q.out <- v:
			case <-q.stop:
				close(q.out)
				return
			}
		}

		select {
		case <-q.wake:
		case <-q.stop:
			close(q.out)
			return
		}
	}
}
