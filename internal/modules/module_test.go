package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

func TestFabricInvokeUnknownModule(t *testing.T) {
	f := NewFabric()
	ctx := newNoopContext(t)
	_, err := f.Invoke(ctx, "ghost", "fn", nil)
	if !errkind.Is(err, errkind.ToolNotFound) {
		t.Fatalf("expected ToolNotFound, got %v", err)
	}
}

func TestFabricInstallLazyLoadsOnce(t *testing.T) {
	f := NewFabric()
	loads := 0
	f.InstallLazy("lazy", func() (Module, error) {
		loads++
		return Module{Name: "lazy", Functions: []FunctionDef{
			{Name: "noop", Arity: Fixed(0), Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) { return uv.Nil(), nil }},
		}}, nil
	})

	ctx := newNoopContext(t)
	if _, err := f.Invoke(ctx, "lazy", "noop", nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := f.Invoke(ctx, "lazy", "noop", nil); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if loads != 1 {
		t.Fatalf("expected loader to run once, ran %d times", loads)
	}
}

func TestFabricInvokeWrongArity(t *testing.T) {
	f := NewFabric()
	f.Install(Module{Name: "m", Functions: []FunctionDef{
		{Name: "needs_two", Arity: Fixed(2), Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) { return uv.Nil(), nil }},
	}})
	ctx := newNoopContext(t)
	_, err := f.Invoke(ctx, "m", "needs_two", []uv.Value{uv.Int(1)})
	if !errkind.Is(err, errkind.InvalidArguments) {
		t.Fatalf("expected InvalidArguments, got %v", err)
	}
}

func TestFabricMemoizesRepeatedCalls(t *testing.T) {
	f := NewFabric()
	calls := 0
	f.Install(Module{Name: "m", Functions: []FunctionDef{
		{
			Name: "counter", Arity: Fixed(0), Memoizable: true,
			Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) {
				calls++
				return uv.Int(int64(calls)), nil
			},
		},
	}})
	ctx := newNoopContext(t)

	first, err := f.Invoke(ctx, "m", "counter", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	second, err := f.Invoke(ctx, "m", "counter", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	n1, _ := first.AsInt()
	n2, _ := second.AsInt()
	if n1 != n2 {
		t.Fatalf("expected memoized result, got %d then %d", n1, n2)
	}
	if calls != 1 {
		t.Fatalf("expected underlying callback to run once, ran %d times", calls)
	}
}
