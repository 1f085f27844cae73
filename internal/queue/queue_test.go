package queue

import (
	"testing"
	"time"
)

func recvTimeout[T any](t *testing.T, q *Queue[T]) T {
	t.Helper()
	select {
	case v, ok := <-q.Out():
		if !ok {
			t.Fatal("queue closed unexpectedly")
		}
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for queue item")
	}
	panic("unreachable")
}

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	defer q.Close()

	for i := 0; i < 100; i++ {
		q.Put(i)
	}
	for i := 0; i < 100; i++ {
		if got := recvTimeout(t, q); got != i {
			t.Fatalf("item %d: got %d", i, got)
		}
	}
}

func TestPutNeverBlocks(t *testing.T) {
	q := New[int]()
	defer q.Close()

	// No consumer: a bounded channel would stall here.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Put(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put blocked without a consumer")
	}
}

func TestCloseClosesOut(t *testing.T) {
	q := New[string]()
	q.Put("a")
	if got := recvTimeout(t, q); got != "a" {
		t.Fatalf("got %q", got)
	}

	q.Close()
	select {
	case _, ok := <-q.Out():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Out not closed after Close")
	}
}

func TestPutAfterCloseIsNoop(t *testing.T) {
	q := New[int]()
	q.Close()
	q.Put(1) // must not panic
	q.Close()
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()
	defer q.Close()

	const producers, each = 8, 250
	for p := 0; p < producers; p++ {
		go func() {
			for i := 0; i < each; i++ {
				q.Put(i)
			}
		}()
	}

	for i := 0; i < producers*each; i++ {
		recvTimeout(t, q)
	}
}
