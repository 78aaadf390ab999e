package tenant

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/metrics"
)

type fakeCtx struct{ closed bool }

func (f *fakeCtx) Close() { f.closed = true }

func TestCreateDuplicateFails(t *testing.T) {
	m := NewManager()
	if err := m.Create("a", Limits{}, &fakeCtx{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := m.Create("a", Limits{}, &fakeCtx{})
	if !errkind.Is(err, errkind.TenantExists) {
		t.Fatalf("expected TenantExists, got %v", err)
	}
}

func TestLookupMissingFails(t *testing.T) {
	m := NewManager()
	if _, _, err := m.Lookup("ghost"); !errkind.Is(err, errkind.TenantNotFound) {
		t.Fatalf("expected TenantNotFound, got %v", err)
	}
}

func TestIsolationAcrossTenants(t *testing.T) {
	m := NewManager()
	_ = m.Create("a", Limits{DeniedGlobals: []string{"print"}}, &fakeCtx{})
	_ = m.Create("b", Limits{}, &fakeCtx{})

	polA, _, _ := m.Lookup("a")
	polB, _, _ := m.Lookup("b")

	if err := polA.CheckGlobal("print"); !errkind.Is(err, errkind.Capability) {
		t.Fatalf("expected Capability denial for tenant a, got %v", err)
	}
	if err := polB.CheckGlobal("print"); err != nil {
		t.Fatalf("tenant b should not inherit tenant a's deny-list, got %v", err)
	}
}

func TestDeleteReleasesContext(t *testing.T) {
	m := NewManager()
	ctx := &fakeCtx{}
	_ = m.Create("a", Limits{}, ctx)
	if err := m.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ctx.closed {
		t.Fatal("expected execution context to be closed on delete")
	}
	if _, _, err := m.Lookup("a"); !errkind.Is(err, errkind.TenantNotFound) {
		t.Fatal("expected tenant gone after delete")
	}
}

func TestUpdateTakesEffectForFreshLookup(t *testing.T) {
	m := NewManager()
	_ = m.Create("a", Limits{AllowIO: false}, &fakeCtx{})
	pol, _, _ := m.Lookup("a")
	if err := pol.CheckCapability("io"); err == nil {
		t.Fatal("expected io denied before update")
	}

	if err := m.Update("a", Limits{AllowIO: true}); err != nil {
		t.Fatalf("update: %v", err)
	}
	pol2, _, _ := m.Lookup("a")
	if err := pol2.CheckCapability("io"); err != nil {
		t.Fatalf("expected io allowed after update, got %v", err)
	}
	// The policy handle obtained before the update must not mutate
	// retroactively; only a fresh Lookup observes the new Limits.
	if err := pol.CheckCapability("io"); err == nil {
		t.Fatal("stale policy handle must not observe the update")
	}
}

func TestCallBudgetExhaustion(t *testing.T) {
	m := NewManager()
	_ = m.Create("a", Limits{MaxCalls: 2}, &fakeCtx{})
	if err := m.CheckCallBudget("a"); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	if err := m.CheckCallBudget("a"); err != nil {
		t.Fatalf("call 2: %v", err)
	}
	if err := m.CheckCallBudget("a"); !errkind.Is(err, errkind.CapacityExceeded) {
		t.Fatalf("expected CapacityExceeded on call 3, got %v", err)
	}
}

func TestCheckCallBudgetRecordsMetrics(t *testing.T) {
	m := NewManager()
	mtr := metrics.Init("test_tenant_calls", nil)
	m.SetMetrics(mtr)
	_ = m.Create("a", Limits{}, &fakeCtx{})

	if err := m.CheckCallBudget("a"); err != nil {
		t.Fatalf("call: %v", err)
	}

	rr := httptest.NewRecorder()
	mtr.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `test_tenant_calls_tenant_calls_total{tenant="a"} 1`) {
		t.Fatalf("expected tenant call counted, got:\n%s", rr.Body.String())
	}
}

func TestCheckModuleAllowList(t *testing.T) {
	pol := CompilePolicy(Limits{AllowedModules: []string{"agent", "tool"}})
	if err := pol.CheckModule("agent"); err != nil {
		t.Fatalf("expected agent allowed, got %v", err)
	}
	if err := pol.CheckModule("workflow"); !errkind.Is(err, errkind.Capability) {
		t.Fatalf("expected workflow denied, got %v", err)
	}
}
