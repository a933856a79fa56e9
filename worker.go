package jobdispatch

import (
	"runtime"
	"sync/atomic"
	"time"
)

// worker is the sole consumer of one category queue.
type worker struct {
	d        *Dispatcher
	queue    *categoryQueue
	counters *categoryCounters
	// current is the epoch of the task being executed, if any.
	current atomic.Pointer[fenceEpoch]
	// stopped is closed once the worker has exited for good.
	stopped chan struct{}
	// abandoned counts tasks popped after the kill, which never ran.
	abandoned atomic.Int64
	state     atomic.Uint32
	category  Category
}

// State returns the current worker state.
func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(uint32(s))
}

// running reports whether e belongs to the task being executed.
func (w *worker) running(e *fenceEpoch) bool {
	return w.current.Load() == e
}

// run is the worker goroutine. If a job calls runtime.Goexit, the goroutine
// is replaced, and the worker carries on with the next task.
func (w *worker) run() {
	normalReturn := false
	defer func() {
		if !normalReturn {
			w.d.log.workerReplaced(w.category)
			go w.run()
			return
		}
		w.setState(WorkerStopped)
		close(w.stopped)
		w.d.wg.Done()
	}()
	w.loop()
	normalReturn = true
}

// loop exits once killed, or once the dispatcher is terminating and every
// accepted job has completed.
func (w *worker) loop() {
	if w.d.opts.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	var (
		backoff = w.d.opts.idleBackoffMin
		timer   = time.NewTimer(backoff)
	)
	defer timer.Stop()

	w.setState(WorkerIdle)

	for {
		select {
		case <-w.d.killCh:
			return
		default:
		}

		if t, ok := w.queue.pop(); ok {
			// published before the kill check, see Handle.Wait
			w.current.Store(t.fence.epoch)
			select {
			case <-w.d.killCh:
				w.current.Store(nil)
				w.abandoned.Add(1)
				return
			default:
			}
			w.execute(t)
			backoff = w.d.opts.idleBackoffMin
			continue
		}

		w.setState(WorkerIdle)

		timer.Reset(backoff)
		select {
		case <-w.queue.wake:
			backoff = w.d.opts.idleBackoffMin
		case <-timer.C:
			backoff = min(backoff*2, w.d.opts.idleBackoffMax)
		case <-w.d.killCh:
			return
		case <-w.d.drained:
			// nothing is outstanding, so nothing can be queued
			return
		}
	}
}

// execute runs a single task, then signals its fence, then dispatches any
// continuations waiting on it. It completes the task even if the job calls
// runtime.Goexit.
func (w *worker) execute(t task) {
	w.setState(WorkerRunning)

	var start time.Time
	if w.counters.latency != nil {
		start = time.Now()
	}

	var (
		err      *TaskError
		returned bool
	)
	defer func() {
		if !returned {
			err = &TaskError{
				Cause:    ErrJobExited,
				Category: w.category,
				FenceID:  t.fence.id,
			}
		}

		if w.counters.latency != nil {
			w.counters.latency.record(time.Since(start))
		}

		w.setState(WorkerCompleting)
		w.counters.executed.Add(1)

		var result error
		if err != nil {
			w.counters.failed.Add(1)
			w.d.log.taskFailed(err)
			result = err
		}
		w.complete(t, result)
		w.current.Store(nil)

		w.setState(WorkerIdle)
	}()

	err = w.invoke(t)
	returned = true
}

// invoke runs the task's work, recovering any panic.
func (w *worker) invoke(t task) (err *TaskError) {
	defer func() {
		if r := recover(); r != nil {
			err = &TaskError{
				Cause:    PanicError{Value: r},
				Category: w.category,
				FenceID:  t.fence.id,
			}
		}
	}()
	t.work()
	return nil
}

// complete signals the task's fence, and materializes its continuations.
func (w *worker) complete(t task, err error) {
	d := w.d
	continuations, ok := d.fences.signal(t.fence, err)
	if !ok {
		d.poison("fence signaled while not pending", t.fence, w.category)
	}
	for _, c := range continuations {
		d.materialize(c)
	}
	d.finishOne()
}

// materialize enqueues a continuation whose antecedent has signaled.
func (d *Dispatcher) materialize(t task) {
	q := d.queues[t.category]
	counters := &d.counters[t.category]
	if q.pushContinuation(t) {
		counters.overflowed.Add(1)
		d.log.overflowed(t.category, q.overflowLen())
	}
	counters.submitted.Add(1)
	counters.observeDepth(q.depth())
}
