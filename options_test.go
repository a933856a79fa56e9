package jobdispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOptions_defaults(t *testing.T) {
	cfg, err := resolveOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.logger)
	assert.Equal(t, DefaultLogSource, cfg.logSource)
	assert.Equal(t, MaxFences, cfg.maxFences)
	assert.Equal(t, QueueSize, cfg.queueSize)
	assert.Equal(t, DefaultIdleBackoffMin, cfg.idleBackoffMin)
	assert.Equal(t, DefaultIdleBackoffMax, cfg.idleBackoffMax)
	assert.Equal(t, DefaultFailureLogRates(), cfg.failureLogRates)
	assert.False(t, cfg.metricsEnabled)
	assert.True(t, cfg.lockOSThread)
}

func TestResolveOptions_nilOption(t *testing.T) {
	cfg, err := resolveOptions([]Option{nil, WithMaxFences(8), nil})
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.maxFences)
}

func TestResolveOptions_lastWins(t *testing.T) {
	cfg, err := resolveOptions([]Option{
		WithQueueSize(8),
		WithLogSource("a"),
		WithQueueSize(16),
		WithLogSource("b"),
		WithMetrics(true),
		WithLockOSThread(false),
		WithIdleBackoff(time.Millisecond, time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.queueSize)
	assert.Equal(t, "b", cfg.logSource)
	assert.True(t, cfg.metricsEnabled)
	assert.False(t, cfg.lockOSThread)
	assert.Equal(t, time.Millisecond, cfg.idleBackoffMin)
	assert.Equal(t, time.Second, cfg.idleBackoffMax)
}

func TestWithFailureLogRates(t *testing.T) {
	cfg, err := resolveOptions([]Option{WithFailureLogRates(nil)})
	require.NoError(t, err)
	assert.Nil(t, cfg.failureLogRates)

	rates := map[time.Duration]int{time.Second: 1, time.Hour: 100}
	cfg, err = resolveOptions([]Option{WithFailureLogRates(rates)})
	require.NoError(t, err)
	assert.Equal(t, rates, cfg.failureLogRates)

	_, err = resolveOptions([]Option{WithFailureLogRates(map[time.Duration]int{time.Second: 0})})
	require.ErrorContains(t, err, "invalid failure log rates")
}

func TestNew_appliesOptions(t *testing.T) {
	d, err := New(WithMaxFences(16), WithQueueSize(8))
	require.NoError(t, err)
	assert.Equal(t, 16, d.Metrics().FenceCapacity)
	for _, q := range d.queues {
		assert.Equal(t, 8, q.ring.Size())
	}
	require.NoError(t, d.Close())
}
