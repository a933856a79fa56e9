// Package jobdispatch runs jobs on a small, fixed set of worker goroutines,
// one per job [Category], as used by a game engine's main loop to offload
// asset loading, audio, and render command recording.
//
// # Architecture
//
// Each category has a bounded, lock-free, single-producer single-consumer
// [Ring] of tasks, consumed by a dedicated worker goroutine (locked to its own
// OS thread, by default). Submissions are serialized per category, so any
// goroutine may submit.
//
// Every accepted job owns a fence, from a fixed pool (see [MaxFences]), which
// bounds the number of jobs in flight. The [Handle] returned by
// [Dispatcher.Submit] may be used to wait for the job, or to chain a
// continuation, which is only enqueued once the job completes:
//
//	d, err := jobdispatch.New(jobdispatch.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	if err := d.Initialize(); err != nil {
//		return err
//	}
//	defer d.Shutdown(context.Background())
//
//	h, err := d.Submit(jobdispatch.Asset, func() { tex = decode(raw) })
//	if err != nil {
//		return err // e.g. ErrQueueFull
//	}
//	h, err = h.Then(jobdispatch.Render, func() { upload(tex) })
//	if err != nil {
//		return err
//	}
//	if err := h.Wait(ctx); err != nil {
//		return err
//	}
//
// # Ordering
//
// Jobs within a category run one at a time, in submission order. There is no
// ordering between categories, other than that established by [Handle.Then]
// and [Handle.Wait].
//
// # Failures
//
// Submission never blocks: a full queue or exhausted fence pool is reported
// as an error ([ErrQueueFull], [ErrFencePoolExhausted]). A panicking job is
// recovered, logged, and reported by [Handle.Wait] as a [*TaskError]. Its
// fence is still signaled, and its continuations still run. The same goes for
// a job that calls runtime.Goexit, whose worker goroutine is replaced.
//
// # Shutdown
//
// [Dispatcher.Shutdown] drains every accepted job, including continuations,
// before stopping the workers. [Dispatcher.Close] stops them as soon as their
// current job completes, discarding the rest. From then on, [Handle.Wait]
// only blocks for a job that is still executing.
//
// # Debugging
//
// Building with the jobdispatch_debug tag turns fence pool invariant
// violations into panics. Otherwise, they are logged at critical level, and
// the dispatcher rejects all further submissions with
// [ErrDispatcherPoisoned].
package jobdispatch
