package jobdispatch

import (
	"sync"
	"sync/atomic"
)

// FenceState is the state of a fence, as observed through a [Handle].
type FenceState uint8

const (
	// FenceFree indicates the fence slot is not in use.
	FenceFree FenceState = iota
	// FencePending indicates the job has been accepted, but has not finished.
	FencePending
	// FenceSignaled indicates the job has finished (successfully or not).
	FenceSignaled
)

// String returns a human-readable representation of the fence state.
func (s FenceState) String() string {
	switch s {
	case FenceFree:
		return "Free"
	case FencePending:
		return "Pending"
	case FenceSignaled:
		return "Signaled"
	default:
		return "Unknown"
	}
}

const (
	fenceStateBits = 2
	fenceStateMask = 1<<fenceStateBits - 1
)

func packFence(gen uint64, state FenceState) uint64 {
	return gen<<fenceStateBits | uint64(state)
}

func unpackFence(word uint64) (gen uint64, state FenceState) {
	return word >> fenceStateBits, FenceState(word & fenceStateMask)
}

type (
	// fencePool is a fixed set of completion fences, bounding the number of
	// in-flight jobs.
	//
	// Each slot is a single atomic word, holding the generation (upper bits)
	// and the FenceState (low bits). Each acquire starts a new generation, and
	// allocates a fenceEpoch, which carries the done channel, continuations and
	// result of that generation. Handles keep a pointer to their epoch, so
	// recycling a slot never affects an older handle.
	fencePool struct { // betteralign:ignore
		_       [sizeOfCacheLine]byte
		next    atomic.Uint64 // acquire counter
		_       [ringPadSize]byte
		pending atomic.Int64
		_       [ringPadSize]byte

		slots []atomic.Uint64
		mask  uint64
	}

	// fenceRef identifies one generation of one fence slot.
	fenceRef struct {
		epoch *fenceEpoch
		gen   uint64
		id    uint32
	}

	// fenceEpoch is the per-generation completion record.
	fenceEpoch struct {
		err           error
		done          chan struct{}
		continuations []task
		mu            sync.Mutex
		signaled      bool
	}
)

func newFencePool(capacity int) *fencePool {
	return &fencePool{
		slots: make([]atomic.Uint64, capacity),
		mask:  uint64(capacity - 1),
	}
}

// capacity returns the number of fences.
func (p *fencePool) capacity() int {
	return len(p.slots)
}

// inFlight returns the number of pending fences.
func (p *fencePool) inFlight() int {
	return int(p.pending.Load())
}

// reset marks every slot free, preserving generations. It must only be called
// while no fence can be acquired.
func (p *fencePool) reset() {
	for i := range p.slots {
		gen, _ := unpackFence(p.slots[i].Load())
		p.slots[i].Store(packFence(gen, FenceFree))
	}
	p.next.Store(0)
	p.pending.Store(0)
}

// acquireScan bounds the number of slots acquire tries.
const acquireScan = 8

// acquire claims the next free fence, in round-robin order, trying up to
// acquireScan slots (all of them, in a smaller pool). Each try advances the
// counter, so long-running jobs are skipped, rather than blocking.
func (p *fencePool) acquire() (fenceRef, error) {
	for range min(acquireScan, len(p.slots)) {
		if ref, ok := p.tryAcquire(uint32((p.next.Add(1) - 1) & p.mask)); ok {
			return ref, nil
		}
	}
	return fenceRef{}, ErrFencePoolExhausted
}

func (p *fencePool) tryAcquire(id uint32) (fenceRef, bool) {
	slot := &p.slots[id]
	for {
		word := slot.Load()
		gen, state := unpackFence(word)
		if state == FencePending {
			return fenceRef{}, false
		}
		gen++
		if slot.CompareAndSwap(word, packFence(gen, FencePending)) {
			p.pending.Add(1)
			return fenceRef{
				epoch: &fenceEpoch{done: make(chan struct{})},
				gen:   gen,
				id:    id,
			}, true
		}
	}
}

// release returns a fence that was acquired but never handed out, e.g. after
// the target queue rejected the task.
func (p *fencePool) release(ref fenceRef) bool {
	if !p.slots[ref.id].CompareAndSwap(packFence(ref.gen, FencePending), packFence(ref.gen, FenceFree)) {
		return false
	}
	p.pending.Add(-1)
	return true
}

// signal marks the fence signaled, recording err as the result, and returns
// the continuations registered against it. It returns false if the fence
// was not pending for that generation, which is an invariant violation.
func (p *fencePool) signal(ref fenceRef, err error) ([]task, bool) {
	e := ref.epoch
	e.mu.Lock()
	if e.signaled || !p.slots[ref.id].CompareAndSwap(packFence(ref.gen, FencePending), packFence(ref.gen, FenceSignaled)) {
		e.mu.Unlock()
		return nil, false
	}
	e.signaled = true
	e.err = err
	continuations := e.continuations
	e.continuations = nil
	close(e.done)
	e.mu.Unlock()
	p.pending.Add(-1)
	return continuations, true
}

// state reports the state of the lineage identified by ref. A newer
// generation in the slot means the lineage already signaled.
func (p *fencePool) state(ref fenceRef) FenceState {
	gen, state := unpackFence(p.slots[ref.id].Load())
	if gen != ref.gen {
		return FenceSignaled
	}
	return state
}

// isSignaled is the lock-free completion check.
func (p *fencePool) isSignaled(ref fenceRef) bool {
	return p.state(ref) == FenceSignaled
}

// addContinuation registers t to run after ref signals, returning false
// (without registering) if it already has.
func (e *fenceEpoch) addContinuation(t task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		return false
	}
	e.continuations = append(e.continuations, t)
	return true
}

// result returns whether the epoch signaled, and the recorded error.
func (e *fenceEpoch) result() (signaled bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled, e.err
}
