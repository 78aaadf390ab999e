package userdata

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/errkind"
)

func TestRegisterRejectsDuplicateVersion(t *testing.T) {
	r := NewRegistry()
	info := TypeInfo{Name: "Widget", Size: 8, Alignment: 8, Version: Version{1, 0, 0}}
	if err := r.Register(info); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(info); !errkind.Is(err, errkind.InvalidArguments) {
		t.Fatalf("expected InvalidArguments on duplicate, got %v", err)
	}
}

func TestRegisterRejectsLayoutChangeWithoutMigration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TypeInfo{Name: "Widget", Size: 8, Alignment: 8, Version: Version{1, 0, 0}}); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	err := r.Register(TypeInfo{Name: "Widget", Size: 16, Alignment: 8, Version: Version{2, 0, 0}})
	if !errkind.Is(err, errkind.InvalidArguments) {
		t.Fatalf("expected layout-change rejection, got %v", err)
	}
}

func TestCompatibleWith(t *testing.T) {
	cases := []struct {
		a, b Version
		want bool
	}{
		{Version{1, 2, 0}, Version{1, 0, 0}, true},
		{Version{1, 0, 0}, Version{1, 2, 0}, false},
		{Version{2, 0, 0}, Version{1, 9, 9}, false},
		{Version{1, 0, 0}, Version{1, 0, 0}, true},
	}
	for _, c := range cases {
		if got := c.a.CompatibleWith(c.b); got != c.want {
			t.Errorf("%v.CompatibleWith(%v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestStoreValidateRelease(t *testing.T) {
	r := NewRegistry()
	destroyed := false
	err := r.Register(TypeInfo{
		Name: "Widget", Size: 8, Alignment: 8, Version: Version{1, 0, 0},
		Destructor: func(interface{}) { destroyed = true },
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h, err := r.Store("Widget", Version{1, 0, 0}, "payload")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ptr, version, ok := r.Validate("Widget", h)
	if !ok || ptr.(string) != "payload" || version != (Version{1, 0, 0}) {
		t.Fatalf("validate mismatch: ptr=%v version=%v ok=%v", ptr, version, ok)
	}

	if _, _, ok := r.Validate("Gadget", h); ok {
		t.Fatal("expected validate to fail for wrong type name")
	}

	r.Release(h)
	if !destroyed {
		t.Fatal("expected destructor to run on release")
	}
	if _, _, ok := r.Validate("Widget", h); ok {
		t.Fatal("expected validate to fail after release (stale handle)")
	}
}

func TestGenerationalIndexCatchesUseAfterFree(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TypeInfo{Name: "Widget", Size: 8, Alignment: 8, Version: Version{1, 0, 0}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	h1, _ := r.Store("Widget", Version{1, 0, 0}, "first")
	r.Release(h1)

	h2, _ := r.Store("Widget", Version{1, 0, 0}, "second")
	if h1.index != h2.index {
		t.Skip("arena reuse did not land on the freed slot; nothing to assert")
	}
	if h1.generation == h2.generation {
		t.Fatal("expected generation to bump on slot reuse")
	}
	if _, _, ok := r.Validate("Widget", h1); ok {
		t.Fatal("stale handle into a reused slot must not validate")
	}
	ptr, _, ok := r.Validate("Widget", h2)
	if !ok || ptr.(string) != "second" {
		t.Fatalf("fresh handle should validate to the new occupant, got %v ok=%v", ptr, ok)
	}
}

func TestMigrateChainsSteps(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TypeInfo{Name: "Widget", Size: 8, Alignment: 8, Version: Version{1, 0, 0}}); err != nil {
		t.Fatalf("register v1: %v", err)
	}
	migrateTo2 := func(old interface{}, from, to Version, allocate func(int) (interface{}, error)) (interface{}, error) {
		return old.(int) * 2, nil
	}
	if err := r.Register(TypeInfo{Name: "Widget", Size: 16, Alignment: 8, Version: Version{2, 0, 0}, Migration: migrateTo2}); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	migrateTo3 := func(old interface{}, from, to Version, allocate func(int) (interface{}, error)) (interface{}, error) {
		return old.(int) + 1, nil
	}
	if err := r.Register(TypeInfo{Name: "Widget", Size: 16, Alignment: 8, Version: Version{3, 0, 0}, Migration: migrateTo3}); err != nil {
		t.Fatalf("register v3: %v", err)
	}

	out, err := r.Migrate("Widget", 5, Version{1, 0, 0}, Version{3, 0, 0}, nil)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if out.(int) != 11 { // (5*2)+1
		t.Fatalf("chained migration result = %v, want 11", out)
	}
}

func TestSupportsViaMigrationPath(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(TypeInfo{Name: "Widget", Size: 8, Alignment: 8, Version: Version{1, 0, 0}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !r.Supports("Widget", Version{1, 0, 0}) {
		t.Fatal("expected direct compatibility to hold")
	}
	if r.Supports("Widget", Version{9, 0, 0}) {
		t.Fatal("unregistered future version must not be supported")
	}
}
