// Package prommetrics exports job dispatcher metrics to Prometheus.
package prommetrics

import (
	"github.com/joeycumines/go-jobdispatch"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the metric name prefix.
const Namespace = "jobdispatch"

// Source provides metric snapshots, e.g. a *jobdispatch.Dispatcher.
type Source interface {
	Metrics() jobdispatch.Metrics
}

// Collector is a prometheus.Collector, which reads a snapshot from its
// Source on each scrape.
type Collector struct {
	source Source

	submitted     *prometheus.Desc
	executed      *prometheus.Desc
	failed        *prometheus.Desc
	rejected      *prometheus.Desc
	deferred      *prometheus.Desc
	overflowed    *prometheus.Desc
	queueDepth    *prometheus.Desc
	queueDepthMax *prometheus.Desc
	worker        *prometheus.Desc
	latency       *prometheus.Desc
	fences        *prometheus.Desc
	fenceCapacity *prometheus.Desc
	outstanding   *prometheus.Desc
	suppressed    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector. The constLabels may be nil, and are
// useful to distinguish multiple dispatchers.
func NewCollector(source Source, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		source:        source,
		submitted:     desc("jobs_submitted_total", "Jobs enqueued, including materialized continuations.", "category"),
		executed:      desc("jobs_executed_total", "Jobs run to completion, including failures.", "category"),
		failed:        desc("jobs_failed_total", "Jobs that panicked.", "category"),
		rejected:      desc("jobs_rejected_total", "Submissions rejected, by reason.", "category", "reason"),
		deferred:      desc("continuations_deferred_total", "Continuations registered against a pending job.", "category"),
		overflowed:    desc("continuations_overflowed_total", "Continuations that did not fit in the queue.", "category"),
		queueDepth:    desc("queue_depth", "Queued jobs.", "category"),
		queueDepthMax: desc("queue_depth_max", "Maximum observed queued jobs.", "category"),
		worker:        desc("worker_state", "Worker state, 1 for the current state.", "category", "state"),
		latency:       desc("job_duration_seconds", "Job execution time, over recent samples.", "category"),
		fences:        desc("fences_in_flight", "Pending fences, i.e. jobs in flight."),
		fenceCapacity: desc("fence_capacity", "Fence pool size."),
		outstanding:   desc("jobs_outstanding", "Accepted jobs, including registered continuations, not yet completed."),
		suppressed:    desc("logs_suppressed_total", "Log lines dropped by rate limiting."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range [...]*prometheus.Desc{
		c.submitted,
		c.executed,
		c.failed,
		c.rejected,
		c.deferred,
		c.overflowed,
		c.queueDepth,
		c.queueDepthMax,
		c.worker,
		c.latency,
		c.fences,
		c.fenceCapacity,
		c.outstanding,
		c.suppressed,
	} {
		ch <- d
	}
}

// workerStates are exported as an enum, one series per state.
var workerStates = [...]jobdispatch.WorkerState{
	jobdispatch.WorkerStarting,
	jobdispatch.WorkerIdle,
	jobdispatch.WorkerRunning,
	jobdispatch.WorkerCompleting,
	jobdispatch.WorkerStopped,
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()

	for _, cm := range m.Categories {
		category := cm.Category.String()
		ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(cm.Submitted), category)
		ch <- prometheus.MustNewConstMetric(c.executed, prometheus.CounterValue, float64(cm.Executed), category)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(cm.Failed), category)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(cm.QueueFull), category, "queue_full")
		ch <- prometheus.MustNewConstMetric(c.deferred, prometheus.CounterValue, float64(cm.Deferred), category)
		ch <- prometheus.MustNewConstMetric(c.overflowed, prometheus.CounterValue, float64(cm.Overflowed), category)
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(cm.QueueDepth), category)
		ch <- prometheus.MustNewConstMetric(c.queueDepthMax, prometheus.GaugeValue, float64(cm.QueueDepthMax), category)

		for _, state := range workerStates {
			var v float64
			if state == cm.Worker {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.worker, prometheus.GaugeValue, v, category, state.String())
		}

		if l := cm.Latency; l.Count != 0 {
			ch <- prometheus.MustNewConstSummary(
				c.latency,
				uint64(l.Count),
				l.Sum.Seconds(),
				map[float64]float64{
					0.5:  l.P50.Seconds(),
					0.9:  l.P90.Seconds(),
					0.95: l.P95.Seconds(),
					0.99: l.P99.Seconds(),
				},
				category,
			)
		}
	}

	// fence pool exhaustion is not per category
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(m.FencePoolExhausted), "", "fence_pool_exhausted")

	ch <- prometheus.MustNewConstMetric(c.fences, prometheus.GaugeValue, float64(m.FencesInFlight))
	ch <- prometheus.MustNewConstMetric(c.fenceCapacity, prometheus.GaugeValue, float64(m.FenceCapacity))
	ch <- prometheus.MustNewConstMetric(c.outstanding, prometheus.GaugeValue, float64(m.Outstanding))
	ch <- prometheus.MustNewConstMetric(c.suppressed, prometheus.CounterValue, float64(m.SuppressedLogs))
}
