package jobdispatch

import (
	"context"
	"sync"
)

// The process-wide dispatcher, for hosts that bracket their main loop with
// Initialize and Shutdown.
var global struct {
	dispatcher *Dispatcher
	mu         sync.RWMutex
}

// Initialize creates and initializes the process-wide dispatcher, returned
// by [Default]. It fails with ErrAlreadyInitialized if one is already set.
func Initialize(opts ...Option) (*Dispatcher, error) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.dispatcher != nil {
		return nil, ErrAlreadyInitialized
	}

	d, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := d.Initialize(); err != nil {
		return nil, err
	}

	global.dispatcher = d
	return d, nil
}

// Default returns the process-wide dispatcher, or nil.
func Default() *Dispatcher {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return global.dispatcher
}

// Submit submits work to the process-wide dispatcher, see
// [Dispatcher.Submit]. It fails with ErrNotInitialized if [Initialize] has
// not been called.
func Submit(category Category, work func()) (Handle, error) {
	d := Default()
	if d == nil {
		return Handle{}, ErrNotInitialized
	}
	return d.Submit(category, work)
}

// Shutdown shuts down and clears the process-wide dispatcher, see
// [Dispatcher.Shutdown]. It is a no-op if there is none.
func Shutdown(ctx context.Context) error {
	global.mu.Lock()
	d := global.dispatcher
	global.dispatcher = nil
	global.mu.Unlock()

	if d == nil {
		return nil
	}
	return d.Shutdown(ctx)
}
