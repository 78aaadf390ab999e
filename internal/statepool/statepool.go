// Package statepool implements the State Pool (spec §4.5): a bounded
// pool of guest runtime states with acquire/release/cleanup and a
// scoped handle that auto-releases on scope exit.
package statepool

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/metrics"
)

// State is a guest runtime instance managed by the pool. Concrete
// engines (luaengine.State) implement this.
type State interface {
	// ResetBaseline restores guest-visible globals to the sandbox
	// baseline, clears tenant-installed globals, nulls the last-error
	// slot, and resets the CPU tick counter. Reset must not touch the
	// lifetime counters on the state's accounter — those live with the
	// execution context, not the pooled state.
	ResetBaseline() error
	// Corrupted reports whether the state is structurally unusable and
	// must be destroyed rather than returned to the idle list.
	Corrupted() bool
	// Close releases every resource held by the state.
	Close()
}

// Factory constructs a fresh State.
type Factory func() (State, error)

var ErrExhausted = errkind.New(errkind.CapacityExceeded, "state pool exhausted")

type entry struct {
	state    State
	useCount int
	idleSince time.Time
}

// Config bounds pool behavior.
type Config struct {
	Min           int
	Max           int
	IdleEviction  time.Duration
	MaxReuse      int // 0 means unlimited reuse
}

// Pool is a bounded, thread-safe pool of States.
type Pool struct {
	cfg     Config
	factory Factory

	mu    sync.Mutex
	idle  []*entry
	total int // total live states: idle + in-use
	inUse int

	warmGroup singleflight.Group

	name    string
	metrics *metrics.Metrics
}

// New constructs a Pool. cfg.Min idle states are NOT pre-warmed here;
// callers that want a warm pool should Acquire/Release cfg.Min times at
// startup.
func New(cfg Config, factory Factory) *Pool {
	return &Pool{cfg: cfg, factory: factory, name: "default"}
}

// SetMetrics wires m as this pool's metrics sink, labeled name. Nil-safe
// to leave unset: Acquire/release/Stats then simply skip instrumentation.
func (p *Pool) SetMetrics(name string, m *metrics.Metrics) {
	p.mu.Lock()
	p.name = name
	p.metrics = m
	p.mu.Unlock()
}

// Handle is an acquired State plus the pool bookkeeping needed to
// release it correctly.
type Handle struct {
	pool  *Pool
	entry *entry
	released bool
}

// State returns the underlying guest state.
func (h *Handle) State() State { return h.entry.state }

// Release returns the handle's state to the pool (or destroys it, per
// the reset policy). Safe to call more than once; only the first call
// has effect.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	h.pool.release(h.entry)
}

// Acquire returns a Handle wrapping an idle state if one exists
// (O(1)), otherwise initializes a fresh state if the pool has not hit
// Max, otherwise fails with ErrExhausted.
func (p *Pool) Acquire() (*Handle, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		m, name := p.metrics, p.name
		p.mu.Unlock()
		if m != nil {
			m.RecordPoolAcquire("hit")
			m.SetPoolOccupancy(name, len(p.idle), p.inUse)
		}
		return &Handle{pool: p, entry: e}, nil
	}
	if p.cfg.Max <= 0 || p.total < p.cfg.Max {
		p.total++
		p.inUse++
		m, name := p.metrics, p.name
		p.mu.Unlock()
		s, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.inUse--
			p.mu.Unlock()
			return nil, errkind.Wrap(errkind.CapacityExceeded, "state factory failed", err)
		}
		if m != nil {
			m.RecordPoolAcquire("created")
			m.SetPoolOccupancy(name, p.Stats().Idle, p.Stats().InUse)
		}
		return &Handle{pool: p, entry: &entry{state: s}}, nil
	}
	m := p.metrics
	p.mu.Unlock()
	if m != nil {
		m.RecordPoolAcquire("exhausted")
	}
	return nil, ErrExhausted
}

// release implements the reset policy: restore baseline, bump use
// count, and return to idle, unless use_count has hit max_reuse or the
// state reports itself corrupt — in which case it is destroyed instead.
func (p *Pool) release(e *entry) {
	destroy := e.state.Corrupted()
	if !destroy {
		if err := e.state.ResetBaseline(); err != nil {
			destroy = true
		}
	}
	e.useCount++
	if p.cfg.MaxReuse > 0 && e.useCount >= p.cfg.MaxReuse {
		destroy = true
	}

	p.mu.Lock()
	p.inUse--
	if destroy {
		p.total--
		m, name := p.metrics, p.name
		idle, inUse := len(p.idle), p.inUse
		p.mu.Unlock()
		e.state.Close()
		if m != nil {
			m.RecordPoolRelease("destroyed")
			m.SetPoolOccupancy(name, idle, inUse)
		}
		return
	}
	e.idleSince = nowFunc()
	p.idle = append(p.idle, e)
	m, name := p.metrics, p.name
	idle, inUse := len(p.idle), p.inUse
	p.mu.Unlock()
	if m != nil {
		m.RecordPoolRelease("pooled")
		m.SetPoolOccupancy(name, idle, inUse)
	}
}

// Cleanup evicts idle entries whose idle duration exceeds
// cfg.IdleEviction, stopping once the pool would drop below cfg.Min
// total states.
func (p *Pool) Cleanup() int {
	if p.cfg.IdleEviction <= 0 {
		return 0
	}
	cutoff := nowFunc().Add(-p.cfg.IdleEviction)

	p.mu.Lock()
	var keep []*entry
	var evict []*entry
	for _, e := range p.idle {
		if p.total-len(evict) > p.cfg.Min && e.idleSince.Before(cutoff) {
			evict = append(evict, e)
		} else {
			keep = append(keep, e)
		}
	}
	p.idle = keep
	p.total -= len(evict)
	p.mu.Unlock()

	for _, e := range evict {
		e.state.Close()
	}
	return len(evict)
}

// EnsureWarm pre-warms the pool to at least n idle states, matching the
// teacher's RuntimeTemplatePool.EnsureReady pre-warm path. Concurrent
// callers are collapsed through a singleflight group so a stampede of
// callers racing to warm the pool at startup pays the factory cost once
// rather than once per caller.
func (p *Pool) EnsureWarm(n int) error {
	_, err, _ := p.warmGroup.Do("warm", func() (interface{}, error) {
		p.mu.Lock()
		idle := len(p.idle)
		p.mu.Unlock()
		if idle >= n {
			return nil, nil
		}
		// Handles are held until n are acquired: releasing each at once
		// would hand the same idle state back to the next Acquire.
		held := make([]*Handle, 0, n)
		defer func() {
			for _, h := range held {
				h.Release()
			}
		}()
		for len(held) < n {
			h, err := p.Acquire()
			if err != nil {
				return nil, err
			}
			held = append(held, h)
		}
		return nil, nil
	})
	return err
}

// Stats reports current pool occupancy.
type Stats struct {
	Total int
	Idle  int
	InUse int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Idle: len(p.idle), InUse: p.inUse}
}

// nowFunc is indirected so tests can fast-forward idle eviction without
// sleeping.
var nowFunc = time.Now
