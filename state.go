package jobdispatch

import (
	"sync/atomic"
)

// State represents the lifecycle state of a [Dispatcher].
//
// State Machine:
//
//	StateAwake → StateRunning           [Initialize()]
//	StateAwake → StateTerminated        [Shutdown() / Close() before Initialize()]
//	StateRunning → StateTerminating     [Shutdown() / Close()]
//	StateTerminating → StateTerminated  [all workers joined]
//	StateTerminated → (terminal)
//
// Work is only accepted in StateRunning.
type State uint64

const (
	// StateAwake indicates the dispatcher has been created but not initialized.
	StateAwake State = iota
	// StateRunning indicates the workers are running and work is accepted.
	StateRunning
	// StateTerminating indicates shutdown has been requested, and the workers
	// are draining (or abandoning, if closed) the remaining work.
	StateTerminating
	// StateTerminated indicates all workers have stopped.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state cell with cache-line padding.
//
// It is read on every submission, so it gets its own cache line.
type fastState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte //nolint:unused
	v atomic.Uint64
	_ [ringPadSize]byte //nolint:unused
}

func (s *fastState) Load() State {
	return State(s.v.Load())
}

// Store atomically stores a new state, without validating the transition.
func (s *fastState) Store(state State) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// WorkerState represents the state of a category worker goroutine.
//
//	WorkerStarting → WorkerIdle ⇄ WorkerRunning → WorkerCompleting → WorkerIdle
//	(any) → WorkerStopped
type WorkerState uint32

const (
	// WorkerStarting indicates the worker goroutine has not yet started, or
	// that the dispatcher was never initialized.
	WorkerStarting WorkerState = iota
	// WorkerIdle indicates the queue is empty and the worker is parked.
	WorkerIdle
	// WorkerRunning indicates a task is executing.
	WorkerRunning
	// WorkerCompleting indicates the task finished, and its fence is being
	// signaled and its continuations dispatched.
	WorkerCompleting
	// WorkerStopped is terminal.
	WorkerStopped
)

// String returns a human-readable representation of the worker state.
func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "Starting"
	case WorkerIdle:
		return "Idle"
	case WorkerRunning:
		return "Running"
	case WorkerCompleting:
		return "Completing"
	case WorkerStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
