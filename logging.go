package jobdispatch

import (
	"errors"
	"log"
	"sync/atomic"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// logKey is the rate limit category for a kind of log line, per category.
type logKey struct {
	kind     string
	category Category
}

// dispatcherLog wraps the (optional) logger, adding the source field, and
// per-category rate limiting for lines that may be triggered by user code.
type dispatcherLog struct {
	logger     *logiface.Logger[logiface.Event]
	limiter    *catrate.Limiter // nil means unlimited
	source     string
	suppressed atomic.Uint64
}

func newDispatcherLog(opts *dispatcherOptions) *dispatcherLog {
	l := &dispatcherLog{
		logger: opts.logger,
		source: opts.logSource,
	}
	if len(opts.failureLogRates) != 0 {
		l.limiter = catrate.NewLimiter(opts.failureLogRates)
	}
	return l
}

func (l *dispatcherLog) build(b *logiface.Builder[logiface.Event]) *logiface.Builder[logiface.Event] {
	return b.Str("source", l.source)
}

// allow applies the rate limit, counting suppressed lines.
func (l *dispatcherLog) allow(kind string, category Category) bool {
	if l.logger == nil {
		return false
	}
	if _, ok := l.limiter.Allow(logKey{kind: kind, category: category}); !ok {
		l.suppressed.Add(1)
		return false
	}
	return true
}

// guard recovers a panicking logger, falling back to the standard library,
// so that logging can never take down a worker.
func (l *dispatcherLog) guard(msg string) {
	if r := recover(); r != nil {
		log.Printf("[jobdispatch] %s: logger panicked: %v", msg, r)
	}
}

func (l *dispatcherLog) initialized(d *Dispatcher) {
	defer l.guard("initialized")
	l.build(l.logger.Info()).
		Int("categories", NumCategories).
		Int("max_fences", d.fences.capacity()).
		Int("queue_size", d.queues[0].ring.Size()).
		Log("job dispatcher initialized")
}

func (l *dispatcherLog) shutdown(forced bool, outstanding int64) {
	defer l.guard("shutdown")
	l.build(l.logger.Info()).
		Bool("forced", forced).
		Int64("outstanding", outstanding).
		Log("job dispatcher shutting down")
}

func (l *dispatcherLog) terminated(discarded int) {
	defer l.guard("terminated")
	b := l.logger.Info()
	if discarded != 0 {
		b = l.logger.Warning()
	}
	l.build(b).
		Int("discarded", discarded).
		Log("job dispatcher terminated")
}

func (l *dispatcherLog) taskFailed(err *TaskError) {
	defer l.guard("task failed")
	if !l.allow("task_failed", err.Category) {
		return
	}
	msg := "job failed"
	if errors.As(err.Cause, new(PanicError)) {
		msg = "job panicked"
	}
	l.build(l.logger.Err()).
		Stringer("category", err.Category).
		Int64("fence", int64(err.FenceID)).
		Uint64("suppressed", l.suppressed.Load()).
		Err(err.Cause).
		Log(msg)
}

func (l *dispatcherLog) workerReplaced(category Category) {
	defer l.guard("worker replaced")
	if !l.allow("worker_replaced", category) {
		return
	}
	l.build(l.logger.Warning()).
		Stringer("category", category).
		Log("job exited its goroutine, worker replaced")
}

func (l *dispatcherLog) overflowed(category Category, depth int) {
	defer l.guard("overflowed")
	if !l.allow("overflow", category) {
		return
	}
	l.build(l.logger.Warning()).
		Stringer("category", category).
		Int("overflow", depth).
		Log("continuation overflowed category queue")
}

// invariant logs a corrupt fence pool, at critical level.
func (l *dispatcherLog) invariant(msg string, ref fenceRef, category Category) {
	defer l.guard(msg)
	l.build(l.logger.Crit()).
		Stringer("category", category).
		Int64("fence", int64(ref.id)).
		Uint64("generation", ref.gen).
		Log(msg)
}
