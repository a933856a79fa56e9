package jobdispatch

import (
	"slices"
	"sync"
	"sync/atomic"
)

const (
	// overflowInitCap is the initial capacity of a category's overflow slice.
	overflowInitCap = 64
	// overflowCompactThreshold is the minimum number of consumed overflow
	// entries before the slice is compacted.
	overflowCompactThreshold = 256
)

// task is a unit of work, plus the fence to signal once it has run.
type task struct {
	work     func()
	fence    fenceRef
	category Category
}

// categoryQueue is the queue feeding one category's worker.
//
// The ring is strictly SPSC. The consumer is the category's worker, and the
// single logical producer is whichever goroutine holds producerMu. Holding a
// mutex on the enqueue path means the producer side is not lock-free, in
// exchange for accepting submissions from any goroutine. The consumer side
// takes no locks unless the overflow is in use.
//
// Continuations that do not fit in the ring when their antecedent signals go
// to an unbounded overflow list (in practice bounded by the fence pool, as
// every task owns a pending fence). While the overflow is non-empty, direct
// submissions are rejected and further continuations are appended to it, so
// per-category FIFO order holds.
type categoryQueue struct {
	ring *Ring[task]

	// wake has a buffer of one, and is sent to without blocking, after each
	// enqueue.
	wake chan struct{}

	overflow        []task
	overflowHead    int
	producerMu      sync.Mutex
	overflowMu      sync.Mutex
	overflowPending atomic.Bool

	category Category
}

func newCategoryQueue(category Category, size int) *categoryQueue {
	return &categoryQueue{
		ring:     NewRing[task](size),
		wake:     make(chan struct{}, 1),
		category: category,
	}
}

// push enqueues a directly submitted task, returning false if the ring is
// full, or the overflow is in use.
func (q *categoryQueue) push(t task) bool {
	q.producerMu.Lock()
	ok := !q.overflowInUse() && q.ring.Push(t)
	q.producerMu.Unlock()
	if ok {
		q.notify()
	}
	return ok
}

// pushMany enqueues tasks in order, under a single acquisition of the
// producer lock, returning the number accepted. It stops at the first task
// that does not fit.
func (q *categoryQueue) pushMany(tasks []task) (n int) {
	q.producerMu.Lock()
	if !q.overflowInUse() {
		for n < len(tasks) && q.ring.Push(tasks[n]) {
			n++
		}
	}
	q.producerMu.Unlock()
	if n != 0 {
		q.notify()
	}
	return n
}

// pushContinuation enqueues a materialized continuation. It never fails,
// using the overflow if necessary, which is reported via the return value.
func (q *categoryQueue) pushContinuation(t task) (overflowed bool) {
	q.producerMu.Lock()
	if q.overflowInUse() || !q.ring.Push(t) {
		q.overflowMu.Lock()
		if q.overflow == nil {
			q.overflow = make([]task, 0, overflowInitCap)
		}
		q.overflow = append(q.overflow, t)
		q.overflowPending.Store(true)
		q.overflowMu.Unlock()
		overflowed = true
	}
	q.producerMu.Unlock()
	q.notify()
	return overflowed
}

// overflowInUse must be called with producerMu held.
func (q *categoryQueue) overflowInUse() bool {
	if !q.overflowPending.Load() {
		return false
	}
	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()
	return len(q.overflow)-q.overflowHead > 0
}

// pop removes the next task. The ring always holds older tasks than the
// overflow.
//
// CONSUMER ONLY.
func (q *categoryQueue) pop() (task, bool) {
	if t, ok := q.ring.Pop(); ok {
		return t, true
	}

	if !q.overflowPending.Load() {
		return task{}, false
	}

	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()

	if len(q.overflow)-q.overflowHead == 0 {
		q.overflowPending.Store(false)
		return task{}, false
	}

	t := q.overflow[q.overflowHead]
	q.overflow[q.overflowHead] = task{}
	q.overflowHead++

	if q.overflowHead > len(q.overflow)/2 && q.overflowHead > overflowCompactThreshold {
		copy(q.overflow, q.overflow[q.overflowHead:])
		q.overflow = slices.Delete(q.overflow, len(q.overflow)-q.overflowHead, len(q.overflow))
		q.overflowHead = 0
	}

	if q.overflowHead >= len(q.overflow) {
		q.overflow = q.overflow[:0]
		q.overflowHead = 0
		q.overflowPending.Store(false)
	}

	return t, true
}

// discard removes every queued task, passing each to fn.
//
// CONSUMER ONLY, or after the consumer has exited.
func (q *categoryQueue) discard(fn func(task)) int {
	n := q.ring.Drain(fn)
	q.overflowMu.Lock()
	rest := q.overflow[q.overflowHead:]
	q.overflow = nil
	q.overflowHead = 0
	q.overflowPending.Store(false)
	q.overflowMu.Unlock()
	if fn != nil {
		for _, t := range rest {
			fn(t)
		}
	}
	return n + len(rest)
}

// notify wakes the worker, if parked.
func (q *categoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// overflowLen returns the number of tasks in the overflow.
func (q *categoryQueue) overflowLen() int {
	if !q.overflowPending.Load() {
		return 0
	}
	q.overflowMu.Lock()
	defer q.overflowMu.Unlock()
	return len(q.overflow) - q.overflowHead
}

// depth returns the number of queued tasks, ring and overflow.
func (q *categoryQueue) depth() int {
	return q.ring.Len() + q.overflowLen()
}
