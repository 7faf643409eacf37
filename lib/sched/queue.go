package sched

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// qnode is a single element of the queue's linked list
type qnode[T any] struct {
	value *T
	next  atomic.Pointer[qnode[T]]
}

// jobQueue is an unbounded lock-free queue with many producers. A single pump
// goroutine moves the items from the linked list into an unbuffered channel, so
// any number of workers can consume from Recv() (or poll with TryRecv).
//
// The order of items pushed concurrently is the order in which the producers'
// CAS operations succeed.
type jobQueue[T any] struct {
	head   atomic.Pointer[qnode[T]]
	tail   atomic.Pointer[qnode[T]]
	out    chan *T
	length atomic.Int64
	closed atomic.Bool

	// wakes the pump when the list was empty
	mu   sync.Mutex
	cond *sync.Cond
}

// newJobQueue creates an empty queue and starts its pump goroutine
func newJobQueue[T any]() *jobQueue[T] {
	sentinel := &qnode[T]{}

	q := &jobQueue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.pump()
	return q
}

// Push appends value. It returns false if value is nil or the queue is closed.
func (q *jobQueue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &qnode[T]{value: value}
	q.length.Add(1)

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// a failed CAS means another producer already moved the tail
				q.tail.CompareAndSwap(tail, n)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin first, yield under heavy contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// pump moves items from the list into the output channel until the queue is
// closed and empty
func (q *jobQueue[T]) pump() {
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)
			q.out <- value
			q.length.Add(-1)
			next.value = nil
			continue
		}

		if q.closed.Load() {
			return
		}

		q.mu.Lock()
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the channel items are delivered on. It is closed after Close once
// every queued item was received.
func (q *jobQueue[T]) Recv() <-chan *T {
	return q.out
}

// TryRecv returns the next item if one can be received without waiting
func (q *jobQueue[T]) TryRecv() (*T, bool) {
	select {
	case v, ok := <-q.out:
		return v, ok
	default:
		return nil, false
	}
}

// Len returns the number of items pushed but not yet received
func (q *jobQueue[T]) Len() int {
	return int(q.length.Load())
}

// Close stops accepting new items. Queued items are still delivered.
func (q *jobQueue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}
