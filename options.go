package jobdispatch

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

const (
	// MaxFences is the default fence pool size, i.e. the maximum number of
	// in-flight jobs.
	MaxFences = 4096
	// QueueSize is the default number of slots in each category ring. One
	// slot is reserved, so each category holds at most QueueSize-1 tasks.
	QueueSize = 1024

	// DefaultLogSource is the default value of the "source" log field.
	DefaultLogSource = "JobDispatcher"

	// DefaultIdleBackoffMin is the default initial idle backoff, see WithIdleBackoff.
	DefaultIdleBackoffMin = 50 * time.Microsecond
	// DefaultIdleBackoffMax is the default maximum idle backoff, see WithIdleBackoff.
	DefaultIdleBackoffMax = 10 * time.Millisecond
)

// DefaultFailureLogRates are the default per-category limits for logging
// task failures and continuation overflows.
func DefaultFailureLogRates() map[time.Duration]int {
	return map[time.Duration]int{
		time.Second: 5,
		time.Minute: 60,
	}
}

// dispatcherOptions holds configuration options for Dispatcher creation.
type dispatcherOptions struct {
	logger          *logiface.Logger[logiface.Event]
	failureLogRates map[time.Duration]int
	logSource       string
	maxFences       int
	queueSize       int
	idleBackoffMin  time.Duration
	idleBackoffMax  time.Duration
	metricsEnabled  bool
	lockOSThread    bool
}

// Option configures a Dispatcher instance.
type Option interface {
	applyOption(*dispatcherOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*dispatcherOptions) error
}

func (o *optionImpl) applyOption(opts *dispatcherOptions) error {
	return o.applyFunc(opts)
}

// WithLogger sets the logger. A nil logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithLogSource sets the value of the "source" field, present on every log
// entry. Defaults to [DefaultLogSource].
func WithLogSource(source string) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.logSource = source
		return nil
	}}
}

// WithMaxFences sets the fence pool size, which must be a power of two.
func WithMaxFences(n int) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		if n < 2 || !isPowerOfTwo(n) {
			return fmt.Errorf("jobdispatch: max fences must be a power of two >= 2: %d", n)
		}
		opts.maxFences = n
		return nil
	}}
}

// WithQueueSize sets the number of slots per category ring, which must be a
// power of two.
func WithQueueSize(n int) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		if n < 2 || !isPowerOfTwo(n) {
			return fmt.Errorf("jobdispatch: queue size must be a power of two >= 2: %d", n)
		}
		opts.queueSize = n
		return nil
	}}
}

// WithIdleBackoff sets the bounds for the exponential backoff applied while a
// worker is idle. Each consecutive empty poll doubles the wait, starting from
// min, until max. A submission always wakes the worker immediately, the
// backoff only bounds how long a parked worker sleeps between re-checks.
func WithIdleBackoff(min, max time.Duration) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		if min <= 0 || max < min {
			return fmt.Errorf("jobdispatch: invalid idle backoff: min=%s max=%s", min, max)
		}
		opts.idleBackoffMin = min
		opts.idleBackoffMax = max
		return nil
	}}
}

// WithMetrics enables latency sampling, reported by [Dispatcher.Metrics].
// Counters are always maintained.
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithFailureLogRates sets the per-category limits for logging task failures
// (and overflowed continuations), see [catrate.NewLimiter]. Rates must
// be monotonic. A nil or empty map disables rate limiting.
func WithFailureLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *dispatcherOptions) (err error) {
		if len(rates) != 0 {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("jobdispatch: invalid failure log rates: %v", r)
				}
			}()
			// validates
			catrate.NewLimiter(rates)
		}
		opts.failureLogRates = rates
		return nil
	}}
}

// WithLockOSThread sets whether each worker goroutine is locked to its own
// OS thread. Defaults to true.
func WithLockOSThread(enabled bool) Option {
	return &optionImpl{func(opts *dispatcherOptions) error {
		opts.lockOSThread = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to dispatcherOptions.
func resolveOptions(opts []Option) (*dispatcherOptions, error) {
	cfg := &dispatcherOptions{
		failureLogRates: DefaultFailureLogRates(),
		logSource:       DefaultLogSource,
		maxFences:       MaxFences,
		queueSize:       QueueSize,
		idleBackoffMin:  DefaultIdleBackoffMin,
		idleBackoffMax:  DefaultIdleBackoffMax,
		lockOSThread:    true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
