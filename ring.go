package jobdispatch

import (
	"fmt"
	"sync/atomic"
)

// Ring is a bounded, lock-free, single-producer single-consumer ring buffer.
//
// Concurrency Model: SPSC (Single Producer, Single Consumer)
//   - Push, AvailableWrite: producer goroutine ONLY
//   - Pop, Peek, Drain: consumer goroutine ONLY
//   - Len, IsEmpty, Cap, Size: any goroutine (Len/IsEmpty are snapshots)
//
// Violating the SPSC contract (e.g. two goroutines calling Push concurrently)
// is undefined behavior. Callers with multiple producers must serialize them
// externally, see [Dispatcher] for how the category queues do this.
//
// Memory Ordering:
//   - head is written only by the producer. The producer writes the slot, then
//     publishes it by storing head. The consumer loads head before reading the
//     slot.
//   - tail is written only by the consumer. The consumer zeroes the slot, then
//     releases it by storing tail. The producer loads tail before reusing it.
//
// The sync/atomic operations are sequentially consistent, which is strictly
// stronger than the release/acquire pairing the algorithm requires.
//
// Slot lifecycle: slots are allocated once, at construction, as zero values.
// A slot only holds a live value between the Push that wrote it and the Pop
// that moved it out, after which it is zeroed, dropping any references (e.g.
// closures) it held. One slot is always left unused, to distinguish "empty"
// from "full" using only the two indices, meaning a Ring of Size N stores at
// most N-1 items.
//
// A Ring must not be copied after first use.
type Ring[T any] struct { // betteralign:ignore
	_ noCopy
	_ [0]func() // not comparable

	_    [sizeOfCacheLine]byte
	head atomic.Uint64 // next slot to write (producer-owned)
	_    [ringPadSize]byte
	tail atomic.Uint64 // next slot to read (consumer-owned)
	_    [ringPadSize]byte

	mask  uint64
	slots []T
}

// NewRing allocates a ring with the given number of slots, which must be a
// power of two, of at least 2. Usable capacity is size-1.
//
// A panic will occur if size is invalid, as sizes are expected to be
// build-time constants.
func NewRing[T any](size int) *Ring[T] {
	if !isPowerOfTwo(size) || size < 2 {
		panic(fmt.Errorf(`jobdispatch: ring size must be a power of two >= 2: %d`, size))
	}
	return &Ring[T]{
		mask:  uint64(size - 1),
		slots: make([]T, size),
	}
}

// Push writes item into the next free slot, returning false, without
// modifying any state, if the ring is full.
//
// PRODUCER ONLY.
func (r *Ring[T]) Push(item T) bool {
	head := r.head.Load()
	next := (head + 1) & r.mask
	if next == r.tail.Load() {
		return false
	}
	r.slots[head] = item
	r.head.Store(next)
	return true
}

// Pop moves the oldest item out of the ring, returning false, without
// modifying any state, if the ring is empty.
//
// CONSUMER ONLY.
func (r *Ring[T]) Pop() (item T, ok bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return item, false
	}
	item = r.slots[tail]
	var zero T
	r.slots[tail] = zero
	r.tail.Store((tail + 1) & r.mask)
	return item, true
}

// Peek returns a copy of the oldest item, without removing it.
//
// CONSUMER ONLY.
func (r *Ring[T]) Peek() (item T, ok bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return item, false
	}
	return r.slots[tail], true
}

// Drain pops every item currently visible to the consumer, passing each to
// fn (if non-nil), returning the number of items removed.
//
// CONSUMER ONLY.
func (r *Ring[T]) Drain(fn func(item T)) (n int) {
	for {
		item, ok := r.Pop()
		if !ok {
			return n
		}
		n++
		if fn != nil {
			fn(item)
		}
	}
}

// AvailableWrite returns the number of items that may be pushed before the
// ring is full. It is exact when called by the producer, and conservative
// (may under-report) otherwise.
func (r *Ring[T]) AvailableWrite() int {
	return r.Cap() - r.Len()
}

// Len returns the number of resident items.
func (r *Ring[T]) Len() int {
	tail := r.tail.Load()
	head := r.head.Load()
	return int((head - tail) & r.mask)
}

// IsEmpty returns true if no items are resident.
func (r *Ring[T]) IsEmpty() bool {
	return r.head.Load() == r.tail.Load()
}

// Cap returns the usable capacity, which is Size()-1.
func (r *Ring[T]) Cap() int {
	return int(r.mask)
}

// Size returns the number of slots, including the reserved slot.
func (r *Ring[T]) Size() int {
	return int(r.mask) + 1
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527
type noCopy struct{}

// Lock is a no-op used by the go vet copylocks checker.
func (*noCopy) Lock() {}

// Unlock is a no-op used by the go vet copylocks checker.
func (*noCopy) Unlock() {}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
