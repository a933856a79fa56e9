package jobdispatch

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Special case - we use 128 bytes for cache line size on all platforms.
func Test_sizeOfCacheLine(t *testing.T) {
	actual := unsafe.Sizeof(cpu.CacheLinePad{})
	if sizeOfCacheLine < actual {
		t.Errorf("sizeOfCacheLine (%d) is less than actual cache line size (%d)", sizeOfCacheLine, actual)
	}
	// must be neatly divisible
	if sizeOfCacheLine%actual != 0 {
		t.Errorf("sizeOfCacheLine (%d) is not a multiple of actual cache line size (%d)", sizeOfCacheLine, actual)
	}
}

func TestSizeOf(t *testing.T) {
	for _, tc := range [...]struct {
		name     string
		expected uintptr
		actual   uintptr
	}{
		{"sizeOfAtomicUint64", sizeOfAtomicUint64, unsafe.Sizeof(atomic.Uint64{})},
		{"ringPadSize", sizeOfCacheLine - sizeOfAtomicUint64, ringPadSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.actual != tc.expected {
				t.Errorf("expected %d got %d", tc.expected, tc.actual)
			}
		})
	}
}

// The producer and consumer indexes must not share a cache line, with each
// other, or with anything else.
func TestRing_falseSharingLayout(t *testing.T) {
	var r Ring[task]
	head := unsafe.Offsetof(r.head)
	tail := unsafe.Offsetof(r.tail)
	mask := unsafe.Offsetof(r.mask)
	if head < sizeOfCacheLine {
		t.Errorf("head offset %d is within the first cache line", head)
	}
	if tail-head < sizeOfCacheLine {
		t.Errorf("head (%d) and tail (%d) are less than a cache line apart", head, tail)
	}
	if mask-tail < sizeOfCacheLine {
		t.Errorf("tail (%d) and mask (%d) are less than a cache line apart", tail, mask)
	}
}

func TestFastState_falseSharingLayout(t *testing.T) {
	var s fastState
	if v := unsafe.Offsetof(s.v); v < sizeOfCacheLine {
		t.Errorf("state offset %d is within the first cache line", v)
	}
	if size := unsafe.Sizeof(s); size < 2*sizeOfCacheLine {
		t.Errorf("fastState size %d is less than two cache lines", size)
	}
}
