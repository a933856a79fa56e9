package jobdispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Dispatcher runs jobs on a fixed set of worker goroutines, one per
// [Category], each fed by its own bounded queue.
//
// Submission is non-blocking: [Dispatcher.Submit] either enqueues the job and
// returns a [Handle], or fails immediately (e.g. with [ErrQueueFull]). Jobs
// within a category run one at a time, in submission order. There is no
// ordering between categories, other than that established by
// [Handle.Then] and [Handle.Wait].
//
// Lifecycle: [New] → [Dispatcher.Initialize] → [Dispatcher.Shutdown] or
// [Dispatcher.Close]. A Dispatcher cannot be restarted.
type Dispatcher struct { // betteralign:ignore
	_ [0]func() // not comparable

	state fastState

	// outstanding counts accepted tasks (and registered continuations) that
	// have not completed. It is incremented before the state check in
	// Submit, so that a concurrent Shutdown observes it.
	outstanding atomic.Int64

	fences   *fencePool
	queues   [NumCategories]*categoryQueue
	workers  [NumCategories]*worker
	counters [NumCategories]categoryCounters
	log      *dispatcherLog
	opts     *dispatcherOptions

	// killCh is closed to stop the workers without draining.
	killCh chan struct{}
	// drained is closed once terminating, with nothing outstanding.
	drained chan struct{}
	// terminated is closed once every worker has exited.
	terminated chan struct{}

	fencePoolExhausted atomic.Uint64
	poisoned           atomic.Bool

	wg             sync.WaitGroup
	lifecycleMu    sync.Mutex
	killOnce       sync.Once
	drainOnce      sync.Once
	terminatedOnce sync.Once
}

// New creates a new Dispatcher, which must be initialized before use.
func New(opts ...Option) (*Dispatcher, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		fences:     newFencePool(cfg.maxFences),
		log:        newDispatcherLog(cfg),
		opts:       cfg,
		killCh:     make(chan struct{}),
		drained:    make(chan struct{}),
		terminated: make(chan struct{}),
	}

	for _, c := range Categories() {
		d.queues[c] = newCategoryQueue(c, cfg.queueSize)
		d.workers[c] = &worker{
			d:        d,
			queue:    d.queues[c],
			counters: &d.counters[c],
			stopped:  make(chan struct{}),
			category: c,
		}
		if cfg.metricsEnabled {
			d.counters[c].latency = new(latencyRecorder)
		}
	}

	return d, nil
}

// Initialize resets the fence pool and starts one worker goroutine per
// category. It may only be called once, returning ErrAlreadyInitialized on
// subsequent calls, or ErrShutdownInProgress if the dispatcher has already
// been shut down.
func (d *Dispatcher) Initialize() error {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	switch d.state.Load() {
	case StateAwake:
	case StateRunning:
		return ErrAlreadyInitialized
	default:
		return ErrShutdownInProgress
	}

	d.fences.reset()

	d.wg.Add(len(d.workers))
	for _, w := range d.workers {
		go w.run()
	}
	go func() {
		d.wg.Wait()
		d.finalize()
	}()

	d.state.Store(StateRunning)
	d.log.initialized(d)

	return nil
}

// Submit enqueues work to run on the worker for category.
//
// It never blocks. The returned error will be one of ErrInvalidCategory,
// ErrNilWork, ErrNotInitialized, ErrShutdownInProgress,
// ErrDispatcherPoisoned, ErrFencePoolExhausted or ErrQueueFull (the last
// two may be wrapped, test using [errors.Is]).
//
// Submit is safe to call from any goroutine, including from within a job.
func (d *Dispatcher) Submit(category Category, work func()) (Handle, error) {
	if err := d.begin(category, work); err != nil {
		return Handle{}, err
	}

	ref, err := d.acquireFence()
	if err != nil {
		d.finishOne()
		return Handle{}, err
	}

	t := task{work: work, fence: ref, category: category}
	if err := d.enqueue(t); err != nil {
		d.fences.release(ref)
		d.finishOne()
		return Handle{}, err
	}

	return Handle{d: d, fence: ref, category: category}, nil
}

// begin validates a submission and registers it as outstanding. On success,
// the caller must eventually call finishOne exactly once.
func (d *Dispatcher) begin(category Category, work func()) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidCategory, uint8(category))
	}
	if work == nil {
		return ErrNilWork
	}
	d.outstanding.Add(1)
	if err := d.accepting(); err != nil {
		d.finishOne()
		return err
	}
	return nil
}

// accepting returns nil if new work may be submitted.
func (d *Dispatcher) accepting() error {
	if d.poisoned.Load() {
		return ErrDispatcherPoisoned
	}
	switch d.state.Load() {
	case StateRunning:
		return nil
	case StateAwake:
		return ErrNotInitialized
	default:
		return ErrShutdownInProgress
	}
}

func (d *Dispatcher) acquireFence() (fenceRef, error) {
	ref, err := d.fences.acquire()
	if err != nil {
		d.fencePoolExhausted.Add(1)
		return fenceRef{}, fmt.Errorf("%w (capacity=%d)", err, d.fences.capacity())
	}
	return ref, nil
}

// enqueue pushes a directly submitted task.
func (d *Dispatcher) enqueue(t task) error {
	q := d.queues[t.category]
	counters := &d.counters[t.category]
	if !q.push(t) {
		counters.queueFull.Add(1)
		return fmt.Errorf("%w (category=%s)", ErrQueueFull, t.category)
	}
	counters.submitted.Add(1)
	counters.observeDepth(q.depth())
	return nil
}

// finishOne marks an outstanding task as completed (or abandoned).
func (d *Dispatcher) finishOne() {
	if d.outstanding.Add(-1) == 0 && d.state.Load() == StateTerminating {
		d.drainOnce.Do(func() { close(d.drained) })
	}
}

// Shutdown stops accepting new work, and waits for every accepted job
// (including continuations which materialize in the meantime) to complete,
// and all workers to exit.
//
// If ctx is done first, the dispatcher is closed (see [Dispatcher.Close]),
// and ctx.Err() is returned.
//
// Calling Shutdown on a dispatcher that was never initialized terminates it
// immediately. Subsequent calls wait for termination, returning nil.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.lifecycleMu.Lock()
	if d.terminateUninitialized() {
		d.lifecycleMu.Unlock()
		return nil
	}
	if d.state.TryTransition(StateRunning, StateTerminating) {
		outstanding := d.outstanding.Load()
		if outstanding == 0 {
			d.drainOnce.Do(func() { close(d.drained) })
		}
		d.log.shutdown(false, outstanding)
	}
	d.lifecycleMu.Unlock()

	select {
	case <-d.terminated:
		return nil
	case <-ctx.Done():
	}

	d.kill()
	<-d.terminated
	return ctx.Err()
}

// Close stops the dispatcher immediately. Each worker exits after its current
// job (if any). Queued jobs are discarded, and waiters on them receive
// ErrWaitAfterShutdown. Close blocks until all workers have exited.
func (d *Dispatcher) Close() error {
	d.lifecycleMu.Lock()
	if d.terminateUninitialized() {
		d.lifecycleMu.Unlock()
		return nil
	}
	if d.state.TryTransition(StateRunning, StateTerminating) {
		d.log.shutdown(true, d.outstanding.Load())
	}
	d.kill()
	d.lifecycleMu.Unlock()

	<-d.terminated
	return nil
}

// terminateUninitialized moves a dispatcher that was never initialized
// straight to terminated.
func (d *Dispatcher) terminateUninitialized() bool {
	if !d.state.TryTransition(StateAwake, StateTerminated) {
		return false
	}
	d.terminatedOnce.Do(func() { close(d.terminated) })
	return true
}

func (d *Dispatcher) kill() {
	d.killOnce.Do(func() { close(d.killCh) })
}

// finalize runs once every worker has exited.
func (d *Dispatcher) finalize() {
	var discarded int
	for _, c := range Categories() {
		discarded += d.queues[c].discard(nil) + int(d.workers[c].abandoned.Load())
	}
	d.state.Store(StateTerminated)
	d.log.terminated(discarded)
	d.terminatedOnce.Do(func() { close(d.terminated) })
}

// Done returns a channel that is closed once the dispatcher has terminated.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.terminated
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	return d.state.Load()
}

// Metrics returns a snapshot of the dispatcher's statistics.
func (d *Dispatcher) Metrics() Metrics {
	m := Metrics{
		FenceCapacity:      d.fences.capacity(),
		FencesInFlight:     d.fences.inFlight(),
		FencePoolExhausted: d.fencePoolExhausted.Load(),
		SuppressedLogs:     d.log.suppressed.Load(),
		Outstanding:        d.outstanding.Load(),
	}
	for _, c := range Categories() {
		counters := &d.counters[c]
		q := d.queues[c]
		cm := &m.Categories[c]
		cm.Category = c
		cm.Worker = d.workers[c].State()
		cm.Submitted = counters.submitted.Load()
		cm.Executed = counters.executed.Load()
		cm.Failed = counters.failed.Load()
		cm.QueueFull = counters.queueFull.Load()
		cm.Deferred = counters.deferred.Load()
		cm.Overflowed = counters.overflowed.Load()
		cm.Overflow = q.overflowLen()
		cm.QueueDepth = q.ring.Len() + cm.Overflow
		cm.QueueDepthMax = int(counters.depthMax.Load())
		if counters.latency != nil {
			cm.Latency = counters.latency.snapshot()
		}
	}
	return m
}

// WorkerState returns the state of the worker for category.
func (d *Dispatcher) WorkerState(category Category) WorkerState {
	if !category.Valid() {
		return WorkerStopped
	}
	return d.workers[category].State()
}

// poison is called on a fence invariant violation.
func (d *Dispatcher) poison(msg string, ref fenceRef, category Category) {
	if debugAssertions {
		panic(fmt.Errorf("jobdispatch: %s (category=%s fence=%d generation=%d)", msg, category, ref.id, ref.gen))
	}
	d.poisoned.Store(true)
	d.log.invariant(msg, ref, category)
}
