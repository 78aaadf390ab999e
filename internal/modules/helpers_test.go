package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/accounter"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/statepool"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// fakeGuestState is a minimal exectx.GuestState double shared by this
// package's module tests: Call always succeeds trivially regardless of
// the requested name, which is enough to exercise modules that invoke a
// guest callback by name without needing a real interpreter.
type fakeGuestState struct {
	globals map[string]uv.Value
}

func newFakeGuestState() *fakeGuestState {
	return &fakeGuestState{globals: make(map[string]uv.Value)}
}

func (f *fakeGuestState) ResetBaseline() error { f.globals = make(map[string]uv.Value); return nil }
func (f *fakeGuestState) Corrupted() bool      { return false }
func (f *fakeGuestState) Close()               {}

func (f *fakeGuestState) Walk(fn func(name string, v uv.Value) bool) {
	for k, v := range f.globals {
		if !fn(k, v) {
			return
		}
	}
}

func (f *fakeGuestState) Clear() { f.globals = make(map[string]uv.Value) }

func (f *fakeGuestState) SetGlobal(name string, v uv.Value) error {
	f.globals[name] = v
	return nil
}

func (f *fakeGuestState) Execute(script string) (uv.Value, error) { return uv.Nil(), nil }

func (f *fakeGuestState) Call(name string, args []uv.Value) (uv.Value, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return uv.Nil(), nil
}

func (f *fakeGuestState) CollectGarbage()     {}
func (f *fakeGuestState) MemoryUsage() int64  { return 0 }

var _ exectx.GuestState = (*fakeGuestState)(nil)

// newNoopContext builds an exectx.Context over a fakeGuestState, for
// module tests that only need a Context to thread through a Callback
// and don't exercise engine-specific semantics.
func newNoopContext(t *testing.T) *exectx.Context {
	t.Helper()
	pool := statepool.New(statepool.Config{Max: 1}, func() (statepool.State, error) {
		return newFakeGuestState(), nil
	})
	ctx, err := exectx.New(pool, accounter.New(0))
	if err != nil {
		t.Fatalf("exectx.New: %v", err)
	}
	t.Cleanup(ctx.Close)
	return ctx
}
