package jobdispatch

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectAll[T any](t *testing.T, c *Collector[T]) ([]T, error) {
	t.Helper()
	var values []T
	err := c.Collect(context.Background(), func(v T) error {
		values = append(values, v)
		return nil
	})
	return values, err
}

func TestCollector_nonBlocking(t *testing.T) {
	c := NewCollector[int](8, nil)

	values, err := collectAll(t, c)
	require.NoError(t, err)
	assert.Empty(t, values, "never waits")

	for i := 0; i < 5; i++ {
		require.True(t, c.TrySend(i))
	}
	assert.Equal(t, 5, c.Len())

	values, err = collectAll(t, c)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, values)
	assert.Zero(t, c.Len())
}

func TestCollector_maxBatch(t *testing.T) {
	c := NewCollector[int](8, &CollectorConfig{MaxBatch: 3})
	for i := 0; i < 7; i++ {
		require.True(t, c.TrySend(i))
	}
	values, err := collectAll(t, c)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, values)
	values, err = collectAll(t, c)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, values)
	values, err = collectAll(t, c)
	require.NoError(t, err)
	assert.Equal(t, []int{6}, values)
}

func TestCollector_wait(t *testing.T) {
	c := NewCollector[string](4, &CollectorConfig{Wait: 20 * time.Millisecond})

	start := time.Now()
	values, err := collectAll(t, c)
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	c2 := NewCollector[string](4, &CollectorConfig{Wait: 5 * time.Second})
	go func() {
		time.Sleep(5 * time.Millisecond)
		c2.TrySend("late")
	}()
	values, err = collectAll(t, c2)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, values)
}

func TestCollector_close(t *testing.T) {
	c := NewCollector[int](4, nil)
	require.True(t, c.TrySend(1))
	c.Close()
	c.Close()

	assert.False(t, c.TrySend(2))
	require.ErrorIs(t, c.Send(context.Background(), 2), ErrCollectorClosed)

	values, err := collectAll(t, c)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []int{1}, values)

	_, err = collectAll(t, c)
	require.ErrorIs(t, err, io.EOF)
}

func TestCollector_sendBlocks(t *testing.T) {
	c := NewCollector[int](1, nil)
	require.NoError(t, c.Send(context.Background(), 1))
	assert.False(t, c.TrySend(2))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Send(ctx, 2), context.DeadlineExceeded)

	// close unblocks a pending send
	done := make(chan error, 1)
	go func() { done <- c.Send(context.Background(), 3) }()
	time.Sleep(5 * time.Millisecond)
	c.Close()
	require.ErrorIs(t, <-done, ErrCollectorClosed)
}

func TestCollector_handlerError(t *testing.T) {
	c := NewCollector[int](4, nil)
	require.True(t, c.TrySend(1))
	require.True(t, c.TrySend(2))
	stop := errors.New("stop")
	err := c.Collect(context.Background(), func(int) error { return stop })
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, c.Len())
}

func TestSubmitTo(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := testContext(t)
	c := NewCollector[int](16, &CollectorConfig{MaxBatch: -1})

	var handles []Handle
	for i := 0; i < 10; i++ {
		h, err := SubmitTo(d, Asset, c, func() int { return i * i })
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Wait(ctx))
	}

	values, err := collectAll(t, c)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9, 16, 25, 36, 49, 64, 81}, values)

	_, err = SubmitTo[int](d, Asset, c, nil)
	require.ErrorIs(t, err, ErrNilWork)
	_, err = SubmitTo(d, Asset, nil, func() int { return 0 })
	require.ErrorIs(t, err, ErrNilWork)
}

// A job blocked on a full collector does not prevent Close.
func TestSubmitTo_closeUnblocks(t *testing.T) {
	d := newTestDispatcher(t)
	c := NewCollector[int](1, nil)
	require.True(t, c.TrySend(0))

	h, err := SubmitTo(d, General, c, func() int { return 1 })
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return d.WorkerState(General) == WorkerRunning
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, d.Close())
	err = h.Wait(testContext(t))
	require.ErrorIs(t, err, ErrTaskFailed)
	require.ErrorIs(t, err, ErrResultDropped)
	require.ErrorIs(t, err, ErrShutdownInProgress)
	assert.Equal(t, 1, c.Len())
}

func TestSubmitTo_closedCollector(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := testContext(t)
	c := NewCollector[int](4, nil)
	c.Close()

	h, err := SubmitTo(d, Asset, c, func() int { return 1 })
	require.NoError(t, err)
	err = h.Wait(ctx)
	require.ErrorIs(t, err, ErrTaskFailed)
	require.ErrorIs(t, err, ErrResultDropped)
	require.ErrorIs(t, err, ErrCollectorClosed)
	assert.Equal(t, uint64(1), d.Metrics().Categories[Asset].Failed)
}
