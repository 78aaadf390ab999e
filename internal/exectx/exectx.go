// Package exectx implements the Execution Context (spec §4.7): the
// per-tenant vessel that owns exactly one acquired guest state and
// mediates every host↔guest call through the protected executor,
// snapshot manager, and memory accounter.
package exectx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lexlapax/go-llmspell/internal/accounter"
	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/logging"
	"github.com/lexlapax/go-llmspell/internal/metrics"
	"github.com/lexlapax/go-llmspell/internal/protected"
	"github.com/lexlapax/go-llmspell/internal/snapshot"
	"github.com/lexlapax/go-llmspell/internal/statepool"
	"github.com/lexlapax/go-llmspell/internal/tracing"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// GuestState is what a concrete engine's pooled state must implement to
// be driven by an execution Context. It composes the pool's lifecycle
// contract with the root-set walk/write the snapshot manager needs and
// the actual guest operations.
type GuestState interface {
	statepool.State
	snapshot.RootSetReader
	snapshot.RootSetWriter

	Execute(script string) (uv.Value, error)
	Call(name string, args []uv.Value) (uv.Value, error)
	CollectGarbage()
	MemoryUsage() int64
}

// Stats mirrors the accounter's counters, exposed as allocation_stats().
type Stats = accounter.Counters

// Context owns one acquired GuestState and serializes every operation
// against it (spec §5: "within one context, operations are serialized
// and observed in issue order").
type Context struct {
	mu sync.Mutex

	handle    *statepool.Handle
	state     GuestState
	accounter *accounter.Accounter
	snapshots *snapshot.Manager
	executor  *protected.Executor

	tenantID  string
	logger    *logging.Logger
	metrics   *metrics.Metrics
	tracer    *tracing.Provider
	callCount atomic.Int64

	lastError atomic.Pointer[errkind.ScriptError]
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithSnapshotConfig installs a snapshot manager bound to cfg. Without
// this option, create_snapshot/restore_snapshot fail with a
// configuration error.
func WithSnapshotConfig(cfg snapshot.Config) Option {
	return func(c *Context) { c.snapshots = snapshot.New(cfg) }
}

// WithProtectedExecutor installs a caller-built protected executor
// (allowing engine-specific panic classification and recovery strategy).
// Without this option protected.New() is used: Propagate recovery, an
// error that carries an errkind Kind keeps it, and every other trap is
// classified as Runtime.
func WithProtectedExecutor(e *protected.Executor) Option {
	return func(c *Context) { c.executor = e }
}

// WithTenantID stamps every invocation log entry for this context with
// the owning tenant, so a shared log stream can be filtered per tenant.
func WithTenantID(id string) Option {
	return func(c *Context) { c.tenantID = id }
}

// WithLogger overrides the invocation logger (default logging.Default()).
// Mainly useful in tests wanting a private logger instance.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithMetrics wires m as this context's invocation/accounter metrics
// sink. Unset by default: metrics are opt-in per ObservabilityConfig.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithTracer wires p as this context's span provider. Unset by default,
// leaving Execute/Call untraced.
func WithTracer(p *tracing.Provider) Option {
	return func(c *Context) { c.tracer = p }
}

// New acquires a state from pool and wraps it as a Context bound to acc
// for memory accounting.
func New(pool *statepool.Pool, acc *accounter.Accounter, opts ...Option) (*Context, error) {
	h, err := pool.Acquire()
	if err != nil {
		return nil, err
	}
	state, ok := h.State().(GuestState)
	if !ok {
		h.Release()
		return nil, errkind.New(errkind.Runtime, "pooled state does not implement exectx.GuestState")
	}

	c := &Context{
		handle:    h,
		state:     state,
		accounter: acc,
		executor:  protected.New(),
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying pooled state back to the pool.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.Release()
		c.handle = nil
	}
}

// Execute compiles and runs a script fragment under the protected
// executor.
func (c *Context) Execute(script string) (uv.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMemoryBudget(); err != nil {
		c.lastError.Store(errkind.FromError(err))
		return uv.Nil(), err
	}

	start := time.Now()
	coldStart := c.callCount.Add(1) == 1
	_, span := c.tracer.StartInvocation(context.Background(), "execute", c.tenantID, coldStart)
	before := c.state.MemoryUsage()
	result, diag, err := c.executor.Run(c.state, func() (interface{}, error) {
		return c.state.Execute(script)
	})
	if err == nil {
		err = c.accountMemory(before)
	}
	tracing.End(span, err)
	c.logInvocation("execute", len(script), start, coldStart, err, span)
	if err != nil {
		if diag != nil {
			c.storeDiagnostic(diag)
		} else {
			c.lastError.Store(errkind.FromError(err))
		}
		return uv.Nil(), err
	}
	return result.(uv.Value), nil
}

// Call looks up a guest callable by name and invokes it with args under
// the protected executor.
func (c *Context) Call(name string, args []uv.Value) (uv.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkMemoryBudget(); err != nil {
		c.lastError.Store(errkind.FromError(err))
		return uv.Nil(), err
	}

	start := time.Now()
	coldStart := c.callCount.Add(1) == 1
	_, span := c.tracer.StartInvocation(context.Background(), name, c.tenantID, coldStart)
	before := c.state.MemoryUsage()
	result, diag, err := c.executor.Run(c.state, func() (interface{}, error) {
		return c.state.Call(name, args)
	})
	if err == nil {
		err = c.accountMemory(before)
	}
	tracing.End(span, err)
	c.logInvocation(name, len(args), start, coldStart, err, span)
	if err != nil {
		if diag != nil {
			c.storeDiagnostic(diag)
		} else {
			c.lastError.Store(errkind.FromError(err))
		}
		return uv.Nil(), err
	}
	return result.(uv.Value), nil
}

// checkMemoryBudget pre-emptively rejects a call before touching the
// guest state if a prior call already pushed bytes_live to or past the
// configured budget, per spec §4.4 ("every allocate/resize/free routes
// through the shim").
func (c *Context) checkMemoryBudget() error {
	if c.accounter == nil {
		return nil
	}
	max := c.accounter.MaxMemory()
	if max <= 0 {
		return nil
	}
	if c.accounter.Stats().BytesLive >= max {
		return errkind.New(errkind.MemoryLimit, "context memory budget already exhausted")
	}
	return nil
}

// accountMemory routes the guest state's live-usage delta for this call
// through the accounter's Resize path; the guest runtime has no allocator
// hook of its own (see accounter package doc). A Resize failure
// here means the call's own allocations pushed bytes_live past the
// budget; the call has already run, but the failure is still surfaced
// to the host as a MemoryLimit error and future calls are rejected by
// checkMemoryBudget until usage falls back under budget.
func (c *Context) accountMemory(before int64) error {
	if c.accounter == nil {
		return nil
	}
	after := c.state.MemoryUsage()
	return c.accounter.Resize(before, after)
}

// logInvocation records a script invocation entry if a logger is
// configured, and mirrors a terse line to the operational logger tagged
// with the invocation's trace/span id (logging.OpWithTrace) so daemon
// logs and the per-invocation RequestLog stream can be correlated. Cost
// is negligible next to the guest call itself and both loggers no-op
// when disabled.
func (c *Context) logInvocation(function string, inputSize int, start time.Time, coldStart bool, err error, span trace.Span) {
	var traceID, spanID string
	if span != nil {
		sc := span.SpanContext()
		if sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			spanID = sc.SpanID().String()
		}
	}

	op := logging.OpWithTrace(traceID, spanID)
	if err != nil {
		op.Error("invocation failed", "function", function, "tenant", c.tenantID, "error", err)
	} else {
		op.Debug("invocation completed", "function", function, "tenant", c.tenantID, "duration_ms", time.Since(start).Milliseconds())
	}

	if c.logger == nil {
		return
	}
	entry := &logging.RequestLog{
		InvocationID: uuid.NewString(),
		TraceID:      traceID,
		SpanID:       spanID,
		Function:     function,
		TenantID:     c.tenantID,
		DurationMs:   time.Since(start).Milliseconds(),
		ColdStart:    coldStart,
		Success:      err == nil,
		InputSize:    inputSize,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.logger.Log(entry)

	if c.metrics != nil {
		c.metrics.RecordInvocation(function, c.tenantID, entry.DurationMs, coldStart, err == nil)
		if c.accounter != nil {
			stats := c.accounter.Stats()
			c.metrics.SetAccounterStats(c.tenantID, stats.BytesLive, stats.BytesLive)
		}
	}
}

// SetGlobal roots v in the guest global environment, bypassing the
// sandbox deny-list (the deny-list only traps guest-initiated reads).
func (c *Context) SetGlobal(name string, v uv.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.SetGlobal(name, v)
}

// GetGlobal reads a value from the guest global environment, bypassing
// the sandbox deny-list.
func (c *Context) GetGlobal(name string) (uv.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result uv.Value
	var found bool
	c.state.Walk(func(n string, v uv.Value) bool {
		if n == name {
			result = v
			found = true
			return false
		}
		return true
	})
	if !found {
		return uv.Nil(), errkind.New(errkind.MissingField, "no such global: "+name)
	}
	return result, nil
}

// PrefetchGlobals reads several guest globals concurrently, matching the
// teacher's executor parallel-prefetch pipeline. Each name is read under
// the context's own lock in turn (GetGlobal serializes against the
// guest state), but the errgroup fan-out still collapses N separate
// round-trips into one wait and reports the first error encountered
// rather than failing the whole batch silently on a later name.
func (c *Context) PrefetchGlobals(names []string) (map[string]uv.Value, error) {
	results := make(map[string]uv.Value, len(names))
	var mu sync.Mutex

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			v, err := c.GetGlobal(name)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CollectGarbage requests a full guest-side sweep and reconciles the
// accounter's live-byte counter against the post-sweep usage (guest GC
// reclaims memory the accounter was never told about directly).
func (c *Context) CollectGarbage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.CollectGarbage()
	if c.accounter != nil {
		c.accounter.Reset(c.state.MemoryUsage())
	}
}

// LastError observes the diagnostic stored by the most recent trap, or
// nil if none is pending.
func (c *Context) LastError() *errkind.ScriptError {
	return c.lastError.Load()
}

// ClearErrors drains the last-error slot.
func (c *Context) ClearErrors() {
	c.lastError.Store(nil)
}

// CreateSnapshot delegates to the snapshot manager.
func (c *Context) CreateSnapshot() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshots == nil {
		return 0, errkind.New(errkind.InvalidArguments, "context has no snapshot manager configured")
	}
	return c.snapshots.Snapshot(c.state)
}

// RestoreSnapshot delegates to the snapshot manager. The restore is not
// atomic: if the guest runtime rejects a value partway through, the
// globals restored before it stay set and the rest of the snapshot is
// not applied.
func (c *Context) RestoreSnapshot(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshots == nil {
		return errkind.New(errkind.InvalidArguments, "context has no snapshot manager configured")
	}
	return c.snapshots.Restore(c.state, index)
}

// AllocationStats reads the accounter.
func (c *Context) AllocationStats() Stats {
	if c.accounter == nil {
		return Stats{}
	}
	return c.accounter.Stats()
}

// MemoryUsage reads live usage directly from the guest state, which may
// be cheaper than a full Stats read.
func (c *Context) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.MemoryUsage()
}

// GuestState exposes the underlying pooled guest state so a concrete
// engine can wire engine-specific extensions onto it (e.g. installing a
// modules.Fabric as guest-visible callables). Most callers should go
// through Context's own Execute/Call/SetGlobal instead.
func (c *Context) GuestState() GuestState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) storeDiagnostic(diag *protected.Diagnostic) {
	c.lastError.Store(diag.ToScriptError())
}
