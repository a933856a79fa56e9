package jobdispatch

import (
	"math/rand"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRing_invalidSize(t *testing.T) {
	for _, size := range [...]int{-4, 0, 1, 3, 6, 1000} {
		require.Panics(t, func() { NewRing[int](size) }, "size=%d", size)
	}
}

func TestRing_capacity(t *testing.T) {
	for _, size := range [...]int{2, 4, 8, 1024} {
		r := NewRing[int](size)
		assert.Equal(t, size, r.Size())
		assert.Equal(t, size-1, r.Cap())
		assert.Equal(t, size-1, r.AvailableWrite())
		assert.True(t, r.IsEmpty())

		for i := 0; i < size-1; i++ {
			require.True(t, r.Push(i), "size=%d i=%d", size, i)
		}
		assert.False(t, r.Push(-1), "size=%d", size)
		assert.Equal(t, size-1, r.Len())
		assert.Equal(t, 0, r.AvailableWrite())
	}
}

func TestRing_fifo(t *testing.T) {
	r := NewRing[int](8)
	next := 0
	expected := 0
	// wrap around several times, with varying occupancy
	for round := 0; round < 20; round++ {
		for i := 0; i < round%7+1; i++ {
			if !r.Push(next) {
				break
			}
			next++
		}
		for i := 0; i < round%5+1; i++ {
			v, ok := r.Pop()
			if !ok {
				break
			}
			require.Equal(t, expected, v)
			expected++
		}
	}
	for {
		v, ok := r.Pop()
		if !ok {
			break
		}
		require.Equal(t, expected, v)
		expected++
	}
	require.Equal(t, next, expected)
}

func TestRing_fullLeavesStateUnchanged(t *testing.T) {
	r := NewRing[int](4)
	require.True(t, r.Push(1))
	require.True(t, r.Push(2))
	require.True(t, r.Push(3))
	head, tail := r.head.Load(), r.tail.Load()

	require.False(t, r.Push(4))
	assert.Equal(t, head, r.head.Load())
	assert.Equal(t, tail, r.tail.Load())

	v, ok := r.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRing_emptyLeavesStateUnchanged(t *testing.T) {
	r := NewRing[int](4)
	require.True(t, r.Push(1))
	v, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, 1, v)
	head, tail := r.head.Load(), r.tail.Load()

	v, ok = r.Pop()
	assert.False(t, ok)
	assert.Zero(t, v)
	v, ok = r.Peek()
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, head, r.head.Load())
	assert.Equal(t, tail, r.tail.Load())
}

func TestRing_popZeroesSlot(t *testing.T) {
	r := NewRing[*int](4)
	v := new(int)
	require.True(t, r.Push(v))
	tail := r.tail.Load()
	got, ok := r.Pop()
	require.True(t, ok)
	require.Same(t, v, got)
	assert.Nil(t, r.slots[tail])
}

func TestRing_peekDoesNotRemove(t *testing.T) {
	r := NewRing[string](4)
	require.True(t, r.Push("a"))
	require.True(t, r.Push("b"))
	for i := 0; i < 3; i++ {
		v, ok := r.Peek()
		require.True(t, ok)
		require.Equal(t, "a", v)
	}
	assert.Equal(t, 2, r.Len())
}

func TestRing_drain(t *testing.T) {
	r := NewRing[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, r.Push(i))
	}
	var got []int
	n := r.Drain(func(v int) { got = append(got, v) })
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, 0, r.Drain(nil))
}

// Compares a random sequence of operations against a slice.
func TestRing_model(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := NewRing[int](16)
	var model []int
	for i := 0; i < 10000; i++ {
		if rng.Intn(2) == 0 {
			ok := r.Push(i)
			require.Equal(t, len(model) < 15, ok)
			if ok {
				model = append(model, i)
			}
		} else {
			v, ok := r.Pop()
			require.Equal(t, len(model) > 0, ok)
			if ok {
				require.Equal(t, model[0], v)
				model = model[1:]
			}
		}
		require.Equal(t, len(model), r.Len())
		require.Equal(t, 15-len(model), r.AvailableWrite())
	}
}

// One producer, one consumer: every value arrives exactly once, in order.
func TestRing_spscStress(t *testing.T) {
	const n = 200_000
	r := NewRing[uint64](64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= n; {
			if r.Push(i) {
				i++
			} else {
				runtime.Gosched()
			}
		}
	}()

	var expected uint64 = 1
	for expected <= n {
		v, ok := r.Pop()
		if !ok {
			runtime.Gosched()
			continue
		}
		if v != expected {
			t.Fatalf("expected %d got %d", expected, v)
		}
		expected++
	}
	<-done

	_, ok := r.Pop()
	require.False(t, ok)
}

func BenchmarkRing_pushPop(b *testing.B) {
	r := NewRing[task](QueueSize)
	t := task{work: func() {}}
	b.ReportAllocs()
	for b.Loop() {
		r.Push(t)
		r.Pop()
	}
}
