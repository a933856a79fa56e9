package jobdispatch

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPanicError(t *testing.T) {
	err := PanicError{Value: "boom"}
	assert.Equal(t, "panic: boom", err.Error())
	assert.Nil(t, err.Unwrap())

	err = PanicError{Value: io.ErrUnexpectedEOF}
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestTaskError(t *testing.T) {
	err := error(&TaskError{Cause: PanicError{Value: io.EOF}, Category: Render, FenceID: 12})
	assert.Equal(t, "jobdispatch: task failed (category=Render fence=12): panic: EOF", err.Error())
	assert.True(t, errors.Is(err, ErrTaskFailed))
	assert.True(t, errors.Is(err, io.EOF))
	assert.False(t, errors.Is(err, ErrQueueFull))

	wrapped := fmt.Errorf("frame 7: %w", err)
	var taskErr *TaskError
	assert.True(t, errors.As(wrapped, &taskErr))
	assert.Equal(t, Render, taskErr.Category)
	var panicErr PanicError
	assert.True(t, errors.As(wrapped, &panicErr))
}
