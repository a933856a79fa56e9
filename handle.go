package jobdispatch

import (
	"context"
)

// Handle refers to a submitted job, see [Dispatcher.Submit].
//
// Handles are small values, and may be copied freely. A Handle remains valid
// after the job completes, including after its fence slot is reused by a
// later job. The zero Handle is invalid.
type Handle struct {
	d        *Dispatcher
	fence    fenceRef
	category Category
}

// Valid returns true if the handle was returned by a successful submission.
func (h Handle) Valid() bool {
	return h.d != nil && h.fence.epoch != nil
}

// ID returns the fence ID, which is only unique among in-flight jobs.
func (h Handle) ID() uint32 {
	return h.fence.id
}

// Category returns the category the job was submitted to.
func (h Handle) Category() Category {
	return h.category
}

// State returns the state of the job's fence, without blocking.
// The zero Handle reports FenceFree.
func (h Handle) State() FenceState {
	if !h.Valid() {
		return FenceFree
	}
	return h.d.fences.state(h.fence)
}

// Done returns true if the job has completed, successfully or not. It does
// not block.
func (h Handle) Done() bool {
	return h.Valid() && h.d.fences.isSignaled(h.fence)
}

// Wait blocks until the job has completed. Everything the job did happens
// before Wait returns.
//
// The error is nil if the job completed normally, a [*TaskError] (matching
// [ErrTaskFailed]) if it panicked, ctx.Err() if ctx is done first, or
// ErrWaitAfterShutdown if the dispatcher stopped before running the job.
// After [Dispatcher.Close] (or an expired [Dispatcher.Shutdown]), Wait only
// blocks for a job that is already executing.
func (h Handle) Wait(ctx context.Context) error {
	if !h.Valid() {
		return ErrInvalidHandle
	}
	e := h.fence.epoch
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.d.terminated:
		if !isClosed(e.done) {
			return ErrWaitAfterShutdown
		}
	case <-h.d.killCh:
		// once killed, only a job already executing can still complete
		if err := h.waitKilled(ctx); err != nil {
			return err
		}
	}
	_, err := e.result()
	return err
}

func (h Handle) waitKilled(ctx context.Context) error {
	e := h.fence.epoch
	w := h.d.workers[h.category]
	if w.running(e) {
		select {
		case <-e.done:
		case <-w.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !isClosed(e.done) {
		return ErrWaitAfterShutdown
	}
	return nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Err returns the result of a completed job, see [Handle.Wait]. It returns
// nil if the job has not completed.
func (h Handle) Err() error {
	if !h.Valid() {
		return ErrInvalidHandle
	}
	_, err := h.fence.epoch.result()
	return err
}

// Then schedules work to run on category, after this job completes. The
// continuation runs even if this job failed.
//
// The continuation's fence is acquired immediately, meaning Then may fail with
// ErrFencePoolExhausted. If this job has already completed, the continuation
// is submitted immediately, as with [Dispatcher.Submit] (and may fail with
// ErrQueueFull). Otherwise, it is enqueued by the worker that completes this
// job, and will never be rejected, even if the target queue is full.
//
// Calls may be chained, e.g. a.Then(...).Then(...), and each link starts only
// after its predecessor completes.
func (h Handle) Then(category Category, work func()) (Handle, error) {
	if !h.Valid() {
		return Handle{}, ErrInvalidHandle
	}
	return h.d.then(h.fence, category, work)
}

func (d *Dispatcher) then(antecedent fenceRef, category Category, work func()) (Handle, error) {
	if err := d.begin(category, work); err != nil {
		return Handle{}, err
	}

	ref, err := d.acquireFence()
	if err != nil {
		d.finishOne()
		return Handle{}, err
	}

	t := task{work: work, fence: ref, category: category}
	h := Handle{d: d, fence: ref, category: category}

	if antecedent.epoch.addContinuation(t) {
		d.counters[category].deferred.Add(1)
		return h, nil
	}

	// already signaled
	if err := d.enqueue(t); err != nil {
		d.fences.release(ref)
		d.finishOne()
		return Handle{}, err
	}

	return h, nil
}
