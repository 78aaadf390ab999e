package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/uv"
	"github.com/lexlapax/go-llmspell/internal/weakref"
)

type fakeFunctionHandle struct {
	id       string
	released bool
}

func (f *fakeFunctionHandle) Release()   { f.released = true }
func (f *fakeFunctionHandle) ID() string { return f.id }

var _ uv.FunctionHandle = (*fakeFunctionHandle)(nil)

func TestWeakrefModuleCreateAndGetLive(t *testing.T) {
	registry := weakref.NewRegistry()
	fabric := NewFabric()
	fabric.Install(NewWeakrefModule(registry))
	ctx := newNoopContext(t)

	fn := uv.Function(&fakeFunctionHandle{id: "fn-1"})
	idVal, err := fabric.Invoke(ctx, "weakref", "create", []uv.Value{fn})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := fabric.Invoke(ctx, "weakref", "get", []uv.Value{idVal})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	obj, ok := res.AsObject()
	if !ok {
		t.Fatalf("expected an object result, got %v", res)
	}
	state, _ := obj.Get("state")
	s, _ := state.AsStr()
	if string(s) != "live" {
		t.Fatalf("state = %q, want live", s)
	}
}

func TestWeakrefModuleInvalidateFiresCleanupAndReleasesFunction(t *testing.T) {
	registry := weakref.NewRegistry()
	fabric := NewFabric()
	fabric.Install(NewWeakrefModule(registry))
	ctx := newNoopContext(t)

	handle := &fakeFunctionHandle{id: "fn-2"}
	fn := uv.Function(handle)
	idVal, err := fabric.Invoke(ctx, "weakref", "create", []uv.Value{fn})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := fabric.Invoke(ctx, "weakref", "invalidate", []uv.Value{idVal}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if !handle.released {
		t.Fatal("expected invalidate to run the create-time cleanup and release the function handle")
	}

	res, err := fabric.Invoke(ctx, "weakref", "get", []uv.Value{idVal})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	obj, _ := res.AsObject()
	state, _ := obj.Get("state")
	s, _ := state.AsStr()
	if string(s) != "invalidated" {
		t.Fatalf("state = %q, want invalidated", s)
	}
}

func TestWeakrefModuleStatsReflectActiveCount(t *testing.T) {
	registry := weakref.NewRegistry()
	fabric := NewFabric()
	fabric.Install(NewWeakrefModule(registry))
	ctx := newNoopContext(t)

	fn := uv.Function(&fakeFunctionHandle{id: "fn-3"})
	if _, err := fabric.Invoke(ctx, "weakref", "create", []uv.Value{fn}); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := fabric.Invoke(ctx, "weakref", "stats", nil)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	obj, _ := res.AsObject()
	active, _ := obj.Get("active")
	n, _ := active.AsInt()
	if n != 1 {
		t.Fatalf("active = %d, want 1", n)
	}
}

func TestWeakrefModuleCreateRejectsNonFunction(t *testing.T) {
	registry := weakref.NewRegistry()
	fabric := NewFabric()
	fabric.Install(NewWeakrefModule(registry))
	ctx := newNoopContext(t)

	if _, err := fabric.Invoke(ctx, "weakref", "create", []uv.Value{uv.Int(1)}); err == nil {
		t.Fatal("expected create against a non-function value to fail")
	}
}
