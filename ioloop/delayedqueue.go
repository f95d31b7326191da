package ioloop

import "sync/atomic"

// delayedQueue is a lock-free multi-producer, single-consumer FIFO of
// deferred teardown closures (Dmitry Vyukov's intrusive MPSC queue). Any
// goroutine may Push; only the loop goroutine may Drain.
//
// This replaces the teacher's mutex-guarded ChunkedIngress for exactly one
// use: enqueueing a connection's fd-teardown closure after it has already
// been unlinked from the manager's own tree/array, so the closure can be
// submitted from a callback running outside the loop goroutine (e.g. a
// completion notification from a worker) without taking the loop's lock.
// Everything else that must run on the loop goroutine still goes through
// Loop.Submit, which serializes via the wakeup fd instead.
type delayedQueueNode struct {
	next atomic.Pointer[delayedQueueNode]
	fn   func()
}

type delayedQueue struct {
	head atomic.Pointer[delayedQueueNode] // producer-published tail pointer
	tail *delayedQueueNode                // consumer-owned
}

func newDelayedQueue() *delayedQueue {
	stub := &delayedQueueNode{}
	q := &delayedQueue{tail: stub}
	q.head.Store(stub)
	return q
}

// Push enqueues fn. Safe to call from any goroutine.
func (q *delayedQueue) Push(fn func()) {
	n := &delayedQueueNode{fn: fn}
	prev := q.head.Swap(n)
	prev.next.Store(n)
}

// Drain invokes every closure currently in the queue, in FIFO order, and
// returns the count processed. Must only be called from the loop goroutine.
func (q *delayedQueue) Drain() int {
	n := 0
	for {
		next := q.tail.next.Load()
		if next == nil {
			return n
		}
		q.tail = next
		if next.fn != nil {
			next.fn()
		}
		n++
	}
}
