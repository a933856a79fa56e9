package jobdispatch

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrQueueFull is returned by Submit (and Then, for an already signaled
	// antecedent) when the target category queue is at capacity.
	ErrQueueFull = errors.New("jobdispatch: category queue is full")

	// ErrFencePoolExhausted is returned when the next fence ID is still
	// pending, i.e. the maximum number of in-flight jobs has been reached.
	ErrFencePoolExhausted = errors.New("jobdispatch: fence pool exhausted")

	// ErrTaskFailed is matched (via errors.Is) by the error Wait returns for a
	// task that panicked. See also [TaskError].
	ErrTaskFailed = errors.New("jobdispatch: task failed")

	// ErrShutdownInProgress is returned when work is submitted after Shutdown
	// or Close has been called.
	ErrShutdownInProgress = errors.New("jobdispatch: shutdown in progress")

	// ErrWaitAfterShutdown is returned by Wait when the dispatcher stopped
	// before the task's fence was signaled.
	ErrWaitAfterShutdown = errors.New("jobdispatch: dispatcher stopped before the job completed")

	// ErrNotInitialized is returned when work is submitted before Initialize.
	ErrNotInitialized = errors.New("jobdispatch: dispatcher is not initialized")

	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("jobdispatch: dispatcher is already initialized")

	// ErrInvalidCategory is returned for a Category outside the enumeration.
	ErrInvalidCategory = errors.New("jobdispatch: invalid job category")

	// ErrNilWork is returned when a nil closure is submitted.
	ErrNilWork = errors.New("jobdispatch: nil work")

	// ErrInvalidHandle is returned by operations on the zero Handle.
	ErrInvalidHandle = errors.New("jobdispatch: invalid handle")

	// ErrDispatcherPoisoned is returned once a fence pool invariant has been
	// found to be violated. The dispatcher fails closed, rejecting all further
	// submissions.
	ErrDispatcherPoisoned = errors.New("jobdispatch: fence pool invariant violated")

	// ErrJobExited is the [TaskError] cause for a job that called
	// runtime.Goexit (e.g. via testing.T.FailNow). The worker is replaced.
	ErrJobExited = errors.New("jobdispatch: job exited its goroutine")

	// ErrResultDropped is the [TaskError] cause for a [SubmitTo] job whose
	// result could not be delivered, because the collector was closed, or the
	// dispatcher stopped while the collector was full.
	ErrResultDropped = errors.New("jobdispatch: job result dropped")
)

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TaskError is returned by [Handle.Wait] for a task that panicked. The fence
// is still signaled, meaning continuations still run, and other work in the
// category is unaffected.
type TaskError struct {
	Cause    error
	Category Category
	FenceID  uint32
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("jobdispatch: task failed (category=%s fence=%d): %v", e.Category, e.FenceID, e.Cause)
}

// Unwrap returns the cause, e.g. a [PanicError].
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is reports true for [ErrTaskFailed].
func (e *TaskError) Is(target error) bool {
	return target == ErrTaskFailed
}
