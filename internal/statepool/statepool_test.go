package statepool

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexlapax/go-llmspell/internal/metrics"
)

type fakeState struct {
	id        int
	resets    int
	closed    bool
	corrupted bool
}

func (s *fakeState) ResetBaseline() error { s.resets++; return nil }
func (s *fakeState) Corrupted() bool      { return s.corrupted }
func (s *fakeState) Close()               { s.closed = true }

func newCountingFactory() (Factory, *int) {
	n := 0
	return func() (State, error) {
		n++
		return &fakeState{id: n}, nil
	}, &n
}

func TestAcquireReleaseReuse(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(Config{Min: 0, Max: 2}, factory)

	h1, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	first := h1.State().(*fakeState)
	h1.Release()

	h2, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if h2.State().(*fakeState) != first {
		t.Fatal("expected released state to be reused")
	}
	if *created != 1 {
		t.Fatalf("factory invoked %d times, want 1", *created)
	}
	if first.resets != 1 {
		t.Fatalf("resets = %d, want 1", first.resets)
	}
}

func TestTwoConcurrentAcquiresNeverShareState(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 0, Max: 2}, factory)
	h1, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	h2, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if h1.State() == h2.State() {
		t.Fatal("two concurrent acquisitions returned the same state")
	}
}

func TestAcquireExhausted(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 0, Max: 1}, factory)
	if _, err := p.Acquire(); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := p.Acquire(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestReleaseDestroysCorruptState(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 0, Max: 1}, factory)
	h, _ := p.Acquire()
	fs := h.State().(*fakeState)
	fs.corrupted = true
	h.Release()

	if !fs.closed {
		t.Fatal("expected corrupted state to be closed, not pooled")
	}
	if p.Stats().Idle != 0 {
		t.Fatalf("idle = %d, want 0", p.Stats().Idle)
	}

	h2, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire after destroy: %v", err)
	}
	if h2.State().(*fakeState) == fs {
		t.Fatal("expected a freshly created state, not the destroyed one")
	}
}

func TestMaxReuseDestroysState(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 0, Max: 1, MaxReuse: 2}, factory)
	h, _ := p.Acquire()
	fs := h.State().(*fakeState)
	h.Release() // useCount 1

	h, _ = p.Acquire()
	if h.State().(*fakeState) != fs {
		t.Fatal("expected reuse below max_reuse")
	}
	h.Release() // useCount 2, hits MaxReuse -> destroyed

	if !fs.closed {
		t.Fatal("expected state destroyed once use_count reached max_reuse")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 0, Max: 1}, factory)
	h, _ := p.Acquire()
	h.Release()
	h.Release() // must not double count inUse
	if p.Stats().InUse != 0 {
		t.Fatalf("inUse = %d, want 0 after double release", p.Stats().InUse)
	}
}

func TestEnsureWarmFillsIdleToTarget(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(Config{Min: 0, Max: 10}, factory)

	if err := p.EnsureWarm(3); err != nil {
		t.Fatalf("EnsureWarm: %v", err)
	}
	if p.Stats().Idle != 3 {
		t.Fatalf("idle = %d, want 3", p.Stats().Idle)
	}
	if *created != 3 {
		t.Fatalf("factory invoked %d times, want 3", *created)
	}

	// Re-warming to the same target is a no-op.
	if err := p.EnsureWarm(3); err != nil {
		t.Fatalf("EnsureWarm again: %v", err)
	}
	if *created != 3 {
		t.Fatalf("factory invoked %d times after no-op rewarm, want 3", *created)
	}
}

func TestEnsureWarmConcurrentCallersCollapseIntoOneWarm(t *testing.T) {
	factory, created := newCountingFactory()
	p := New(Config{Min: 0, Max: 10}, factory)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.EnsureWarm(4); err != nil {
				t.Errorf("EnsureWarm: %v", err)
			}
		}()
	}
	wg.Wait()

	if p.Stats().Idle != 4 {
		t.Fatalf("idle = %d, want 4", p.Stats().Idle)
	}
	if *created != 4 {
		t.Fatalf("factory invoked %d times, want 4", *created)
	}
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	return rr.Body.String()
}

func TestAcquireReleaseRecordMetrics(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 0, Max: 1}, factory)
	m := metrics.Init("test_statepool", nil)
	p.SetMetrics("lua", m)

	h, err := p.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	body := scrapeMetrics(t, m)
	if !strings.Contains(body, `test_statepool_pool_acquire_total{result="created"} 1`) {
		t.Fatalf("expected created-acquire counted, got:\n%s", body)
	}

	h.Release()
	body = scrapeMetrics(t, m)
	if !strings.Contains(body, `test_statepool_pool_release_total{outcome="pooled"} 1`) {
		t.Fatalf("expected pooled-release counted, got:\n%s", body)
	}

	if _, err := p.Acquire(); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if _, err := p.Acquire(); err != ErrExhausted {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	body = scrapeMetrics(t, m)
	if !strings.Contains(body, `test_statepool_pool_acquire_total{result="exhausted"} 1`) {
		t.Fatalf("expected exhausted-acquire counted, got:\n%s", body)
	}
}

func TestCleanupEvictsOnlyPastIdleEvictionDownToMin(t *testing.T) {
	factory, _ := newCountingFactory()
	p := New(Config{Min: 1, Max: 5, IdleEviction: time.Millisecond}, factory)

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := p.Acquire()
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		h.Release()
	}

	old := nowFunc
	nowFunc = func() time.Time { return old().Add(time.Hour) }
	defer func() { nowFunc = old }()

	evicted := p.Cleanup()
	if evicted != 2 {
		t.Fatalf("evicted %d, want 2 (down to Min=1)", evicted)
	}
	if p.Stats().Total != 1 {
		t.Fatalf("total after cleanup = %d, want 1", p.Stats().Total)
	}
}
