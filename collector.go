package jobdispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joeycumines/go-longpoll"
)

// ErrCollectorClosed is returned when sending to a closed Collector.
var ErrCollectorClosed = errors.New("jobdispatch: collector closed")

type (
	// CollectorConfig models optional configuration, for NewCollector.
	CollectorConfig struct {
		// MaxBatch is the maximum number of values per Collect call, or
		// unlimited, if negative. Defaults to 16, if 0.
		MaxBatch int

		// Wait is the maximum time Collect waits for the first value. If
		// <= 0, Collect never waits, only receiving values that are ready.
		Wait time.Duration
	}

	// Collector passes values produced by jobs back to a host loop, which
	// receives them in bounded batches, e.g. once per frame.
	Collector[T any] struct {
		ch      chan T
		closing chan struct{}
		cfg     longpoll.ChannelConfig
		mu      sync.RWMutex
		once    sync.Once
		closed  bool
	}
)

// NewCollector creates a Collector buffering up to capacity values. The
// config may be nil.
func NewCollector[T any](capacity int, config *CollectorConfig) *Collector[T] {
	c := &Collector[T]{
		ch:      make(chan T, capacity),
		closing: make(chan struct{}),
		cfg: longpoll.ChannelConfig{
			MaxSize:        16,
			MinSize:        -1,
			PartialTimeout: -1,
		},
	}
	if config != nil {
		if config.MaxBatch != 0 {
			c.cfg.MaxSize = config.MaxBatch
		}
		if config.Wait > 0 {
			c.cfg.PartialTimeout = config.Wait
		}
	}
	return c
}

// Send blocks until v is buffered, ctx is done, or the collector is closed.
func (c *Collector[T]) Send(ctx context.Context, v T) error {
	if err := c.send(v, ctx.Done()); err != nil {
		if err == errSendStopped {
			return ctx.Err()
		}
		return err
	}
	return nil
}

var errSendStopped = errors.New("jobdispatch: send stopped")

func (c *Collector[T]) send(v T, stop <-chan struct{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCollectorClosed
	}
	select {
	case c.ch <- v:
		return nil
	case <-c.closing:
		return ErrCollectorClosed
	case <-stop:
		return errSendStopped
	}
}

// TrySend buffers v if there is room, returning false otherwise.
func (c *Collector[T]) TrySend(v T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Collect receives a batch of values, passing each to handler, see
// [CollectorConfig]. It returns io.EOF once the collector has been closed,
// and every buffered value received.
func (c *Collector[T]) Collect(ctx context.Context, handler func(value T) error) error {
	return longpoll.Channel(ctx, &c.cfg, c.ch, handler)
}

// Len returns the number of buffered values.
func (c *Collector[T]) Len() int {
	return len(c.ch)
}

// Close stops further sends. Buffered values may still be collected.
func (c *Collector[T]) Close() {
	c.once.Do(func() {
		close(c.closing)
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// SubmitTo submits fn to d, sending its result to c. The job blocks until c
// has room, or d is closed. If the result cannot be sent, the job fails, with
// a [*TaskError] wrapping both ErrResultDropped and the reason.
func SubmitTo[T any](d *Dispatcher, category Category, c *Collector[T], fn func() T) (Handle, error) {
	if fn == nil || c == nil {
		return Handle{}, ErrNilWork
	}
	return d.Submit(category, func() {
		if err := c.send(fn(), d.killCh); err != nil {
			if err == errSendStopped {
				err = ErrShutdownInProgress
			}
			panic(fmt.Errorf("%w: %w", ErrResultDropped, err))
		}
	})
}
