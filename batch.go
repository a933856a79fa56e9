package jobdispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/joeycumines/go-microbatch"
)

type (
	// BatchSubmitterConfig models optional configuration, for
	// NewBatchSubmitter.
	BatchSubmitterConfig struct {
		// MaxSize is the maximum number of submissions per batch.
		// Defaults to 64, if 0, or the config is nil.
		MaxSize int

		// FlushInterval is the maximum time a submission waits for its
		// batch to fill. Defaults to 500µs, if 0, or the config is nil.
		FlushInterval time.Duration
	}

	// BatchSubmitter funnels submissions from any number of goroutines
	// through a single submitting goroutine, which enqueues each batch while
	// holding each category's producer lock once.
	//
	// It suits many producers submitting small jobs at high rates, trading
	// some latency (up to the flush interval) for less producer contention.
	BatchSubmitter struct {
		batcher *microbatch.Batcher[*batchJob]
		d       *Dispatcher
	}

	batchJob struct {
		err      error
		work     func()
		handle   Handle
		category Category
	}
)

// NewBatchSubmitter creates a BatchSubmitter for d. The config may be nil.
// Shutdown or Close must be called, once it is no longer needed.
func NewBatchSubmitter(d *Dispatcher, config *BatchSubmitterConfig) *BatchSubmitter {
	cfg := microbatch.BatcherConfig{
		MaxSize:       64,
		FlushInterval: 500 * time.Microsecond,
		// one submitting goroutine, the single producer
		MaxConcurrency: 1,
	}
	if config != nil {
		if config.MaxSize != 0 {
			cfg.MaxSize = config.MaxSize
		}
		if config.FlushInterval != 0 {
			cfg.FlushInterval = config.FlushInterval
		}
	}
	s := &BatchSubmitter{d: d}
	s.batcher = microbatch.NewBatcher(&cfg, s.process)
	return s
}

// Submit behaves like [Dispatcher.Submit], but blocks until the batch
// containing the submission has been processed, or ctx is done.
//
// If ctx is done after the submission was batched, the job may still run.
func (s *BatchSubmitter) Submit(ctx context.Context, category Category, work func()) (Handle, error) {
	result, err := s.batcher.Submit(ctx, &batchJob{work: work, category: category})
	if err != nil {
		return Handle{}, fmt.Errorf("jobdispatch: batch submit: %w", err)
	}
	if err := result.Wait(ctx); err != nil {
		return Handle{}, err
	}
	return result.Job.handle, result.Job.err
}

// Shutdown stops accepting submissions, and waits for pending batches to be
// processed.
func (s *BatchSubmitter) Shutdown(ctx context.Context) error {
	return s.batcher.Shutdown(ctx)
}

// Close stops accepting submissions, abandoning any that are pending.
func (s *BatchSubmitter) Close() error {
	return s.batcher.Close()
}

func (s *BatchSubmitter) process(ctx context.Context, jobs []*batchJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.d.submitBatch(jobs)
	return nil
}

// submitBatch submits each job, recording the outcome on the job. Jobs for
// the same category are enqueued in order, under one acquisition of the
// producer lock.
func (d *Dispatcher) submitBatch(jobs []*batchJob) {
	var (
		tasks   [NumCategories][]task
		indexes [NumCategories][]int
	)

	for i, job := range jobs {
		if err := d.begin(job.category, job.work); err != nil {
			job.err = err
			continue
		}
		ref, err := d.acquireFence()
		if err != nil {
			d.finishOne()
			job.err = err
			continue
		}
		tasks[job.category] = append(tasks[job.category], task{work: job.work, fence: ref, category: job.category})
		indexes[job.category] = append(indexes[job.category], i)
	}

	for _, c := range Categories() {
		if len(tasks[c]) == 0 {
			continue
		}
		q := d.queues[c]
		counters := &d.counters[c]
		n := q.pushMany(tasks[c])
		for k, t := range tasks[c] {
			job := jobs[indexes[c][k]]
			if k < n {
				job.handle = Handle{d: d, fence: t.fence, category: c}
				continue
			}
			d.fences.release(t.fence)
			d.finishOne()
			counters.queueFull.Add(1)
			job.err = fmt.Errorf("%w (category=%s)", ErrQueueFull, c)
		}
		counters.submitted.Add(uint64(n))
		counters.observeDepth(q.depth())
	}
}
