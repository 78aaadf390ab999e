// Package accounter implements the Memory Accounter (spec §4.4): a
// pluggable allocator shim that every guest allocation, resize, and free
// routes through, enforcing a per-context byte budget and exposing the
// four lifetime counters plus a failed-allocation counter.
//
// Guest-internal allocations do not route through the accounter one by
// one: luaengine installs no allocator hook. Instead exectx charges the
// change in the guest state's MemoryUsage estimate across each
// Execute/Call through Resize, and CollectGarbage re-bases bytes_live
// with Reset.
package accounter

import (
	"sync"
	"sync/atomic"

	"github.com/lexlapax/go-llmspell/internal/errkind"
)

// Counters is a point-in-time snapshot of the accounter's lifetime
// statistics.
type Counters struct {
	Allocations    int64
	Resizes        int64
	Frees          int64
	BytesLive      int64
	FailedAllocs   int64
}

// Accounter enforces limits.max_memory against a live-byte counter and
// tracks the four lifetime counters (allocations, resizes, frees,
// bytes_live) plus failed_allocations.
//
// The zero value is not usable; construct with New.
type Accounter struct {
	maxMemory int64

	bytesLive    atomic.Int64
	allocations  atomic.Int64
	resizes      atomic.Int64
	frees        atomic.Int64
	failedAllocs atomic.Int64

	mu sync.Mutex
}

// New returns an Accounter enforcing maxMemory bytes of live allocation.
// A maxMemory of 0 means unlimited.
func New(maxMemory int64) *Accounter {
	return &Accounter{maxMemory: maxMemory}
}

// Allocate reserves size bytes against the budget. On success it
// increments allocations and bytes_live. On failure (would exceed
// max_memory) it increments failed_allocations and returns
// errkind.MemoryLimit; the guest must treat this the same as a null
// return from its native allocator.
func (a *Accounter) Allocate(size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxMemory > 0 && a.bytesLive.Load()+size > a.maxMemory {
		a.failedAllocs.Add(1)
		return errkind.New(errkind.MemoryLimit, "allocation would exceed max_memory")
	}
	a.bytesLive.Add(size)
	a.allocations.Add(1)
	return nil
}

// Resize adjusts an existing allocation from oldSize to newSize bytes
// against the budget. delta may be negative (shrink always succeeds).
func (a *Accounter) Resize(oldSize, newSize int64) error {
	delta := newSize - oldSize
	if delta <= 0 {
		a.mu.Lock()
		a.bytesLive.Add(delta)
		a.resizes.Add(1)
		a.mu.Unlock()
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxMemory > 0 && a.bytesLive.Load()+delta > a.maxMemory {
		a.failedAllocs.Add(1)
		return errkind.New(errkind.MemoryLimit, "resize would exceed max_memory")
	}
	a.bytesLive.Add(delta)
	a.resizes.Add(1)
	return nil
}

// Free releases size bytes back to the budget.
func (a *Accounter) Free(size int64) {
	a.mu.Lock()
	a.bytesLive.Add(-size)
	if a.bytesLive.Load() < 0 {
		a.bytesLive.Store(0)
	}
	a.frees.Add(1)
	a.mu.Unlock()
}

// Reset zeroes bytes_live without touching the lifetime counters
// (allocations/resizes/frees/failed_allocations are monotonic across the
// life of the Accounter; only a fresh Accounter starts them at zero).
// Used after collect_garbage reclaims guest-side memory the accounter
// was not told about directly.
func (a *Accounter) Reset(bytesLive int64) {
	a.mu.Lock()
	a.bytesLive.Store(bytesLive)
	a.mu.Unlock()
}

// Stats returns a snapshot of all counters.
func (a *Accounter) Stats() Counters {
	return Counters{
		Allocations:  a.allocations.Load(),
		Resizes:      a.resizes.Load(),
		Frees:        a.frees.Load(),
		BytesLive:    a.bytesLive.Load(),
		FailedAllocs: a.failedAllocs.Load(),
	}
}

// MaxMemory returns the configured budget (0 meaning unlimited).
func (a *Accounter) MaxMemory() int64 { return a.maxMemory }

// SetMaxMemory adjusts the enforced budget at runtime (e.g. a tenant's
// limits are re-applied after a policy update). It does not retroactively
// fail already-live allocations.
func (a *Accounter) SetMaxMemory(max int64) {
	a.mu.Lock()
	a.maxMemory = max
	a.mu.Unlock()
}
