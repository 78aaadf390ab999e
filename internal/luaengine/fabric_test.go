package luaengine

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/accounter"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/modules"
	"github.com/lexlapax/go-llmspell/internal/statepool"
)

func newFabricTestContext(t *testing.T) (*exectx.Context, *modules.Fabric) {
	t.Helper()
	st := NewState(256, 1024, 0)
	pool := statepool.New(statepool.Config{Min: 0, Max: 1}, func() (statepool.State, error) { return st, nil })
	ctx, err := exectx.New(pool, accounter.New(0))
	if err != nil {
		t.Fatalf("exectx.New: %v", err)
	}
	t.Cleanup(ctx.Close)

	fabric := modules.NewFabric()
	fabric.Install(modules.NewOutputModule())
	if err := st.InstallFabric(ctx, fabric); err != nil {
		t.Fatalf("InstallFabric: %v", err)
	}
	return ctx, fabric
}

// TestInstallFabricExposesModuleFunctionToGuestScript confirms a Fabric
// wired via InstallFabric is actually reachable from a Lua script as
// root.<module>.<function>(args), not just from Go-level Fabric.Invoke
// calls (spec §6 embedding step "(3) registering modules").
func TestInstallFabricExposesModuleFunctionToGuestScript(t *testing.T) {
	ctx, _ := newFabricTestContext(t)

	got, err := ctx.Execute(`local v = root.output.parse_json('{"a": 1}'); return v.a`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	i, ok := got.AsInt()
	if !ok || i != 1 {
		t.Fatalf("root.output.parse_json result = %v, want Int(1)", got)
	}
}

// TestInstallFabricUtilityEntryPoints exercises the root.modules/info
// utility entry points spec.md:180 requires alongside every module.
func TestInstallFabricUtilityEntryPoints(t *testing.T) {
	ctx, _ := newFabricTestContext(t)

	got, err := ctx.Execute(`
		local names = root.modules()
		local found = false
		for i = 1, #names do
			if names[i] == "output" then found = true end
		end
		local info = root.info("output")
		return found and info.name == "output"
	`)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	b, ok := got.AsBool()
	if !ok || !b {
		t.Fatalf("expected root.modules/root.info to report the installed output module, got %v", got)
	}
}

// TestInstallFabricSurvivesResetBaseline confirms the root table is
// treated as sandbox baseline infrastructure, not a tenant-installed
// global ResetBaseline/Clear would strip.
func TestInstallFabricSurvivesResetBaseline(t *testing.T) {
	ctx, _ := newFabricTestContext(t)
	st := ctx.GuestState().(*State)

	if err := st.ResetBaseline(); err != nil {
		t.Fatalf("reset_baseline: %v", err)
	}
	got, err := ctx.Execute(`return root.output.parse_json('{"a": 2}').a`)
	if err != nil {
		t.Fatalf("execute after reset_baseline: %v", err)
	}
	i, ok := got.AsInt()
	if !ok || i != 2 {
		t.Fatalf("root.output.parse_json result after reset_baseline = %v, want Int(2)", got)
	}
}
