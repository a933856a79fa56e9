package jobdispatch

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a point-in-time snapshot of dispatcher statistics, as returned
// by [Dispatcher.Metrics].
//
// Counters are always maintained. Latency percentiles are only populated if
// the dispatcher was created with [WithMetrics](true).
//
// Example:
//
//	d, _ := jobdispatch.New(jobdispatch.WithMetrics(true))
//	_ = d.Initialize()
//	stats := d.Metrics()
//	fmt.Printf("in flight: %d/%d, asset p99: %v\n",
//		stats.FencesInFlight, stats.FenceCapacity,
//		stats.Categories[jobdispatch.Asset].Latency.P99)
type Metrics struct {
	// Categories is indexed by [Category].
	Categories [NumCategories]CategoryMetrics

	// FenceCapacity is the size of the fence pool.
	FenceCapacity int
	// FencesInFlight is the number of pending (unsignaled) fences.
	FencesInFlight int
	// FencePoolExhausted counts submissions rejected with
	// ErrFencePoolExhausted.
	FencePoolExhausted uint64
	// SuppressedLogs counts log lines dropped by the failure log rate limit.
	SuppressedLogs uint64
	// Outstanding is the number of accepted jobs (including registered
	// continuations) that have not yet completed.
	Outstanding int64
}

// CategoryMetrics is the per-category part of [Metrics].
type CategoryMetrics struct {
	// Latency is the task execution time distribution.
	Latency LatencySnapshot

	// Submitted counts tasks accepted into the queue, directly or as
	// materialized continuations.
	Submitted uint64
	// Executed counts tasks that ran to completion (including failures).
	Executed uint64
	// Failed counts tasks that panicked.
	Failed uint64
	// QueueFull counts submissions rejected with ErrQueueFull.
	QueueFull uint64
	// Deferred counts continuations registered against a pending fence.
	Deferred uint64
	// Overflowed counts continuations that did not fit in the ring.
	Overflowed uint64

	// QueueDepth is the current number of queued tasks, ring and overflow.
	QueueDepth int
	// QueueDepthMax is the maximum observed QueueDepth.
	QueueDepthMax int
	// Overflow is the current number of tasks in the overflow list.
	Overflow int

	Category Category
	Worker   WorkerState
}

// LatencySnapshot summarizes recent task execution times.
type LatencySnapshot struct {
	P50  time.Duration
	P90  time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration
	Mean time.Duration
	Sum  time.Duration

	// Count is the number of samples used, at most 1000.
	Count int
}

type (
	// categoryCounters are the live, per-category counters.
	categoryCounters struct {
		latency    *latencyRecorder // nil unless enabled
		submitted  atomic.Uint64
		executed   atomic.Uint64
		failed     atomic.Uint64
		queueFull  atomic.Uint64
		deferred   atomic.Uint64
		overflowed atomic.Uint64
		depthMax   atomic.Int64
	}

	// latencyRecorder is a rolling buffer of execution durations.
	latencyRecorder struct {
		mu          sync.Mutex
		samples     [sampleSize]time.Duration
		sum         time.Duration
		sampleIdx   int
		sampleCount int
	}
)

// sampleSize is the maximum number of latency samples to retain.
const sampleSize = 1000

// observeDepth raises the high-water mark, if depth exceeds it.
func (c *categoryCounters) observeDepth(depth int) {
	v := int64(depth)
	for {
		cur := c.depthMax.Load()
		if v <= cur || c.depthMax.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (l *latencyRecorder) record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// snapshot computes percentiles over the retained samples.
func (l *latencyRecorder) snapshot() (s LatencySnapshot) {
	l.mu.Lock()
	count := l.sampleCount
	if count == 0 {
		l.mu.Unlock()
		return
	}
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	slices.Sort(sorted)

	s.Count = count
	s.Sum = sum
	s.P50 = sorted[percentileIndex(count, 50)]
	s.P90 = sorted[percentileIndex(count, 90)]
	s.P95 = sorted[percentileIndex(count, 95)]
	s.P99 = sorted[percentileIndex(count, 99)]
	s.Max = sorted[count-1]
	s.Mean = sum / time.Duration(count)
	return
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}
