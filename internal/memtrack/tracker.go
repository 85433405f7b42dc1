package memtrack

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

// Recorder receives allocation events.
type Recorder interface {
	Record(addr uintptr, size uint64)
	Forget(addr uintptr)
}

// Event describes one recorded allocation or free, as seen by an Observer.
type Event struct {
	Addr  uintptr
	Size  uint64
	Freed bool
}

// Counters is a snapshot of the tracker's byte counters.
type Counters struct {
	Current      uint64
	Peak         uint64
	LocalCurrent uint64
	LocalPeak    uint64
	Live         int
}

// Tracker is a Recorder that keeps one record per outstanding allocation.
type Tracker struct {
	mu        sync.Mutex
	installed bool
	inHook    bool
	shards    [numShards]map[uintptr]uint64
	live      int

	current      uint64
	peak         uint64
	localCurrent uint64
	localPeak    uint64

	observer func(Event)
}

// New creates an uninstalled tracker.
func New() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i] = make(map[uintptr]uint64)
	}
	return t
}

var defaultTracker = New()

// Default returns the process-wide tracker.
func Default() *Tracker { return defaultTracker }

// Install starts recording.
func (t *Tracker) Install() {
	t.mu.Lock()
	t.installed = true
	t.mu.Unlock()
}

// Uninstall stops recording. Records and counters are kept.
func (t *Tracker) Uninstall() {
	t.mu.Lock()
	t.installed = false
	t.mu.Unlock()
}

// Installed reports whether the tracker is recording.
func (t *Tracker) Installed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installed
}

// SetObserver registers fn to be called after each recorded event. fn runs
// inside the hook: allocations it makes through this tracker are not
// recorded.
func (t *Tracker) SetObserver(fn func(Event)) {
	t.mu.Lock()
	t.observer = fn
	t.mu.Unlock()
}

func shardOf(addr uintptr) int {
	var key [8]byte
	binary.LittleEndian.PutUint64(key[:], uint64(addr))
	return int(xxhash.Sum64(key[:]) % numShards)
}

// Record adds an allocation of size bytes at addr.
func (t *Tracker) Record(addr uintptr, size uint64) {
	if addr == 0 || size == 0 {
		return
	}
	t.mu.Lock()
	if !t.installed || t.inHook {
		t.mu.Unlock()
		return
	}

	shard := t.shards[shardOf(addr)]
	if old, ok := shard[addr]; ok {
		// address reused without a Forget; drop the stale record first
		t.subtract(old)
		t.live--
	}
	shard[addr] = size
	t.live++

	t.current += size
	if t.current > t.peak {
		t.peak = t.current
	}
	t.localCurrent += size
	if t.localCurrent > t.localPeak {
		t.localPeak = t.localCurrent
	}
	t.notify(Event{Addr: addr, Size: size})
}

// Forget removes the allocation at addr. Unknown addresses, for example
// buffers allocated before Install, are ignored.
func (t *Tracker) Forget(addr uintptr) {
	if addr == 0 {
		return
	}
	t.mu.Lock()
	if !t.installed || t.inHook {
		t.mu.Unlock()
		return
	}

	shard := t.shards[shardOf(addr)]
	size, ok := shard[addr]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(shard, addr)
	t.live--
	t.subtract(size)
	t.notify(Event{Addr: addr, Size: size, Freed: true})
}

// subtract lowers the current counters. Peaks are never lowered. The local
// counter saturates at zero: a region may free memory allocated before it
// started.
func (t *Tracker) subtract(size uint64) {
	t.current -= size
	if t.localCurrent >= size {
		t.localCurrent -= size
	} else {
		t.localCurrent = 0
	}
}

// notify runs the observer with the hook disabled and releases t.mu.
func (t *Tracker) notify(ev Event) {
	obs := t.observer
	if obs == nil {
		t.mu.Unlock()
		return
	}
	t.inHook = true
	t.mu.Unlock()

	obs(ev)

	t.mu.Lock()
	t.inHook = false
	t.mu.Unlock()
}

// StartLocalPeak resets the local counters so the next region's growth can
// be read with LocalPeak. Global counters are untouched.
func (t *Tracker) StartLocalPeak() {
	t.mu.Lock()
	t.localCurrent = 0
	t.localPeak = 0
	t.mu.Unlock()
}

// Current returns the bytes currently outstanding.
func (t *Tracker) Current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Peak returns the highest Current seen since the last Reset.
func (t *Tracker) Peak() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// LocalPeak returns the highest local count since StartLocalPeak.
func (t *Tracker) LocalPeak() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localPeak
}

// Snapshot returns all counters at once.
func (t *Tracker) Snapshot() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counters{
		Current:      t.current,
		Peak:         t.peak,
		LocalCurrent: t.localCurrent,
		LocalPeak:    t.localPeak,
		Live:         t.live,
	}
}

// Size returns the recorded size at addr.
func (t *Tracker) Size(addr uintptr) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	size, ok := t.shards[shardOf(addr)][addr]
	return size, ok
}

// Reset drops every record and zeroes all counters.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.shards {
		t.shards[i] = make(map[uintptr]uint64)
	}
	t.live = 0
	t.current, t.peak = 0, 0
	t.localCurrent, t.localPeak = 0, 0
}

// Addr returns the address of the first element of s, or 0 if s has no
// backing array.
func Addr[T any](s []T) uintptr {
	if cap(s) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(s[:1])))
}

// Make allocates a slice of n elements and records it with r. A nil r
// allocates untracked.
func Make[T any](r Recorder, n int) []T {
	s := make([]T, n)
	if r != nil && n > 0 {
		var zero T
		r.Record(Addr(s), uint64(n)*uint64(unsafe.Sizeof(zero)))
	}
	return s
}

// Release forgets s. The memory itself is reclaimed by the garbage
// collector once s is unreachable.
func Release[T any](r Recorder, s []T) {
	if r != nil {
		r.Forget(Addr(s))
	}
}

// Free forgets the allocation starting at ptr.
func (t *Tracker) Free(ptr uintptr) { t.Forget(ptr) }
