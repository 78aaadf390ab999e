// Package tenant implements the Sandbox / Tenant Manager (spec §4.8): a
// registry of per-tenant Limits and the sandbox/deny-list policy derived
// from them, keyed by tenant id.
//
// Grounded on the teacher's Isolator idiom (isolation.go): a scope type
// plus sentinel errors for not-found/disabled/quota-exceeded, generalized
// here from HTTP-request-scoped RBAC/quota checks to immutable-per-call
// script sandbox Limits.
package tenant

import (
	"errors"
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/metrics"
)

// Sentinel errors mirroring the teacher's isolation.go naming, retargeted
// to substrate tenant lifecycle concerns.
var (
	ErrTenantNotFound     = errors.New("tenant: not found")
	ErrTenantAlreadyExists = errors.New("tenant: already exists")
	ErrCapacityExceeded   = errors.New("tenant: capacity exceeded")
	ErrSecurityViolation  = errors.New("tenant: security violation")
)

// Limits is immutable for the duration of a single call; an update takes
// effect starting with the tenant's next call.
type Limits struct {
	MaxMemory       int64
	MaxCPUMillis    int64
	MaxCalls        int64
	AllowIO         bool
	AllowOS         bool
	AllowDebug      bool
	AllowCoroutines bool
	AllowMetatables bool
	AllowedModules  []string
	DeniedGlobals   []string
}

func (l Limits) deniedSet() map[string]struct{} {
	m := make(map[string]struct{}, len(l.DeniedGlobals))
	for _, g := range l.DeniedGlobals {
		m[g] = struct{}{}
	}
	return m
}

func (l Limits) moduleSet() map[string]struct{} {
	m := make(map[string]struct{}, len(l.AllowedModules))
	for _, mod := range l.AllowedModules {
		m[mod] = struct{}{}
	}
	return m
}

// Policy is the compiled, queryable form of a tenant's Limits: fast
// membership checks for the deny-list trap and the allowed-module gate.
type Policy struct {
	limits  Limits
	denied  map[string]struct{}
	allowed map[string]struct{}
}

// CompilePolicy derives a Policy from Limits.
func CompilePolicy(l Limits) *Policy {
	return &Policy{limits: l, denied: l.deniedSet(), allowed: l.moduleSet()}
}

// Limits returns the Limits this Policy was compiled from.
func (p *Policy) Limits() Limits { return p.limits }

// CheckGlobal raises Capability if name is on the deny-list. Matches the
// spec's requirement that a denied global is replaced by a trap, not
// silently omitted, so the guest observes a consistent error kind rather
// than an undefined-global failure.
func (p *Policy) CheckGlobal(name string) error {
	if _, denied := p.denied[name]; denied {
		return errkind.New(errkind.Capability, "access to global "+name+" is denied for this tenant")
	}
	return nil
}

// CheckModule raises Capability if module is not in AllowedModules. An
// empty AllowedModules list means no script modules are permitted.
func (p *Policy) CheckModule(module string) error {
	if _, ok := p.allowed[module]; !ok {
		return errkind.New(errkind.Capability, "module "+module+" is not permitted for this tenant")
	}
	return nil
}

// CheckCapability raises Capability for a named capability flag
// (io, os, debug, coroutines, metatables) when the tenant's Limits
// disallow it.
func (p *Policy) CheckCapability(name string) error {
	var allowed bool
	switch name {
	case "io":
		allowed = p.limits.AllowIO
	case "os":
		allowed = p.limits.AllowOS
	case "debug":
		allowed = p.limits.AllowDebug
	case "coroutines":
		allowed = p.limits.AllowCoroutines
	case "metatables":
		allowed = p.limits.AllowMetatables
	default:
		allowed = false
	}
	if !allowed {
		return errkind.New(errkind.Capability, "capability "+name+" is denied for this tenant")
	}
	return nil
}

// ContextHandle is the opaque execution-context-plus-state a tenant
// entry owns. The tenant package only manages its lifecycle; exectx
// defines its shape.
type ContextHandle interface {
	Close()
}

type tenantEntry struct {
	id       string
	policy   *Policy
	ctx      ContextHandle
	calls    int64
}

// Manager owns a collection of tenants keyed by id, each with its own
// compiled Policy and execution context.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*tenantEntry
	metrics *metrics.Metrics
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{tenants: make(map[string]*tenantEntry)}
}

// SetMetrics wires m as this manager's tenant-call metrics sink. Nil-safe
// to leave unset.
func (m *Manager) SetMetrics(metricsSink *metrics.Metrics) {
	m.mu.Lock()
	m.metrics = metricsSink
	m.mu.Unlock()
}

// Create registers a new tenant with the given Limits and execution
// context, building its sandbox policy. Fails with ErrTenantAlreadyExists
// if id is already registered.
func (m *Manager) Create(id string, limits Limits, ctx ContextHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tenants[id]; exists {
		return errkind.Wrap(errkind.TenantExists, "tenant already exists: "+id, ErrTenantAlreadyExists)
	}
	m.tenants[id] = &tenantEntry{id: id, policy: CompilePolicy(limits), ctx: ctx}
	return nil
}

// Lookup returns the tenant's compiled Policy and execution context.
func (m *Manager) Lookup(id string) (*Policy, ContextHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tenants[id]
	if !ok {
		return nil, nil, errkind.Wrap(errkind.TenantNotFound, "tenant not found: "+id, ErrTenantNotFound)
	}
	return e.policy, e.ctx, nil
}

// Update replaces a tenant's Limits. The new policy takes effect starting
// with the tenant's next call; any call already in flight keeps using
// the policy it started with (the caller holds the *Policy it looked up,
// not a live pointer into the manager).
func (m *Manager) Update(id string, limits Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tenants[id]
	if !ok {
		return errkind.Wrap(errkind.TenantNotFound, "tenant not found: "+id, ErrTenantNotFound)
	}
	e.policy = CompilePolicy(limits)
	return nil
}

// Delete releases the tenant's execution context/state and removes it
// from the manager.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.tenants[id]
	if ok {
		delete(m.tenants, id)
	}
	m.mu.Unlock()
	if !ok {
		return errkind.Wrap(errkind.TenantNotFound, "tenant not found: "+id, ErrTenantNotFound)
	}
	if e.ctx != nil {
		e.ctx.Close()
	}
	return nil
}

// CheckCallBudget increments the tenant's call counter and enforces
// MaxCalls, raising CapacityExceeded once the budget is exhausted. A
// MaxCalls of 0 means unlimited.
func (m *Manager) CheckCallBudget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tenants[id]
	if !ok {
		return errkind.Wrap(errkind.TenantNotFound, "tenant not found: "+id, ErrTenantNotFound)
	}
	if e.policy.limits.MaxCalls > 0 && e.calls >= e.policy.limits.MaxCalls {
		return errkind.Wrap(errkind.CapacityExceeded, "tenant call budget exhausted: "+id, ErrCapacityExceeded)
	}
	e.calls++
	if m.metrics != nil {
		m.metrics.RecordTenantCall(id)
	}
	return nil
}

// List returns all currently registered tenant ids.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		out = append(out, id)
	}
	return out
}
