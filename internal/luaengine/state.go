// Package luaengine is the concrete Engine implementation (spec §4.9)
// built on github.com/yuin/gopher-lua, grounded on that dependency's
// appearance in the retrieved manifest corpus (viant-agently,
// 0g-sandbox-billing) and on the teacher's backend-client idiom of
// wrapping a third-party SDK behind the substrate's own dispatch trait.
package luaengine

import (
	"context"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// State wraps one *lua.LState as a pooled guest state. It implements
// statepool.State, snapshot.RootSetReader/Writer, bridge.StackBridge,
// and exectx.GuestState's Execute/Call/CollectGarbage/MemoryUsage.
type State struct {
	ls           *lua.LState
	baselineKeys map[string]struct{}
	maxCPUMillis int64
	tickBudget   int64
	ticksUsed    int64
	corrupt      bool
}

// NewState constructs a fresh Lua state with the given call-stack depth
// and registry size and snapshots its initial global set as the sandbox
// baseline. A positive maxCPUMillis is enforced on each Execute/Call as a
// deadline on the context handed to the Lua state; no debug hook is
// installed.
func NewState(callStackSize, registrySize int, maxCPUMillis int64) *State {
	ls := lua.NewState(lua.Options{
		CallStackSize:       callStackSize,
		RegistrySize:        registrySize,
		IncludeGoStackTrace: true,
	})

	s := &State{ls: ls, maxCPUMillis: maxCPUMillis}
	s.baselineKeys = s.currentGlobalKeys()
	return s
}

// currentGlobalKeys snapshots the names currently bound in _G, used both
// as the sandbox baseline and by ResetBaseline to strip tenant-installed
// globals back out.
func (s *State) currentGlobalKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	globals := s.ls.G.Global
	globals.ForEach(func(k, _ lua.LValue) {
		keys[k.String()] = struct{}{}
	})
	return keys
}

// InstallDenyTrap replaces name in the global table with a function that
// always raises a Capability-classified Lua error, implementing the
// tenant deny-list (spec §4.8: "denied globals are replaced by a trap").
func (s *State) InstallDenyTrap(name string) {
	s.ls.SetGlobal(name, s.ls.NewFunction(func(l *lua.LState) int {
		l.RaiseError("capability denied: " + name)
		return 0
	}))
}

// ResetBaseline clears every global whose name was not bound when the
// sandbox baseline was recorded (tenant-installed globals) and resets the
// CPU tick counter. Baseline globals that a script reassigned keep their
// new values; they are not restored. It does not touch the accounter's
// lifetime counters, which belong to the owning execution context.
func (s *State) ResetBaseline() error {
	current := s.currentGlobalKeys()
	for k := range current {
		if _, baseline := s.baselineKeys[k]; !baseline {
			s.ls.SetGlobal(k, lua.LNil)
		}
	}
	s.ticksUsed = 0
	return nil
}

// Corrupted reports whether the Lua state itself should be discarded
// rather than reset and reused (e.g. a fatal internal panic left the Lua
// call stack in an inconsistent state).
func (s *State) Corrupted() bool { return s.corrupt }

// Close tears down the underlying Lua state.
func (s *State) Close() {
	s.ls.Close()
}

// Walk implements snapshot.RootSetReader: it visits every global outside
// the sandbox baseline, in the order gopher-lua's table iteration
// returns them (insertion order is not guaranteed by Lua tables, so
// callers needing determinism should sort the result).
func (s *State) Walk(fn func(name string, v uv.Value) bool) {
	stop := false
	s.ls.G.Global.ForEach(func(k, v lua.LValue) {
		if stop {
			return
		}
		name := k.String()
		if _, baseline := s.baselineKeys[name]; baseline {
			return
		}
		uvv, err := s.pull(v)
		if err != nil {
			return
		}
		if !fn(name, uvv) {
			stop = true
		}
	})
}

// Clear resets every non-baseline global to nil, implementing
// snapshot.RootSetWriter's "clear the current root set to the sandbox
// base" step.
func (s *State) Clear() {
	current := s.currentGlobalKeys()
	for k := range current {
		if _, baseline := s.baselineKeys[k]; !baseline {
			s.ls.SetGlobal(k, lua.LNil)
		}
	}
}

// SetGlobal roots v under name in the guest global environment.
func (s *State) SetGlobal(name string, v uv.Value) error {
	lv, err := s.push(v)
	if err != nil {
		return err
	}
	s.ls.SetGlobal(name, lv)
	return nil
}

// GetGlobal reads name from the guest global environment.
func (s *State) GetGlobal(name string) (uv.Value, error) {
	return s.pull(s.ls.GetGlobal(name))
}

// Execute compiles and runs a script fragment, returning its first
// result (or Nil if the fragment produced none).
func (s *State) Execute(script string) (uv.Value, error) {
	ctx, cancel := s.timeoutContext()
	defer cancel()
	s.ls.SetContext(ctx)

	top := s.ls.GetTop()
	if err := s.ls.DoString(script); err != nil {
		s.ls.SetTop(top)
		return uv.Nil(), s.classifyRunError(ctx, err)
	}
	if s.ls.GetTop() <= top {
		return uv.Nil(), nil
	}
	result, err := s.pull(s.ls.Get(-1))
	s.ls.SetTop(top)
	return result, err
}

// Call looks up a guest callable by name, marshals args, and invokes it
// under a one-result protected call.
func (s *State) Call(name string, args []uv.Value) (uv.Value, error) {
	fn := s.ls.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return uv.Nil(), errkind.New(errkind.ToolNotFound, "no such guest callable: "+name)
	}

	lvArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lv, err := s.push(a)
		if err != nil {
			return uv.Nil(), err
		}
		lvArgs[i] = lv
	}

	ctx, cancel := s.timeoutContext()
	defer cancel()
	s.ls.SetContext(ctx)

	top := s.ls.GetTop()
	if err := s.ls.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lvArgs...); err != nil {
		s.ls.SetTop(top)
		return uv.Nil(), s.classifyRunError(ctx, err)
	}
	result, err := s.pull(s.ls.Get(-1))
	s.ls.Pop(1)
	return result, err
}

// CollectGarbage requests a full guest-side sweep.
func (s *State) CollectGarbage() {
	s.ls.SetGlobal("collectgarbage", s.ls.GetGlobal("collectgarbage"))
	_ = s.ls.DoString(`collectgarbage("collect")`)
}

// MemoryUsage reports a coarse live-usage estimate: 64 bytes per entry in
// the global table. It does not measure gopher-lua's heap, so data nested
// inside tables does not add to it.
func (s *State) MemoryUsage() int64 {
	return int64(countKeys(s.ls.G.Global)) * 64
}

func (s *State) timeoutContext() (context.Context, context.CancelFunc) {
	if s.maxCPUMillis <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(s.maxCPUMillis)*time.Millisecond)
}

// classifyRunError maps a gopher-lua error into the substrate's typed
// Kind taxonomy. gopher-lua surfaces syntax errors, runtime errors
// (including RaiseError traps), and stack overflows all as plain `error`
// values, distinguished only by message shape, so classification here is
// necessarily string-based; luaengine is the one place in the substrate
// that is allowed to do that.
func (s *State) classifyRunError(ctx context.Context, err error) *errkind.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return errkind.New(errkind.Timeout, "execution exceeded max_cpu_ms")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "capability denied:"):
		return errkind.New(errkind.Capability, msg)
	case strings.Contains(msg, "stack overflow"):
		s.corrupt = true
		return errkind.New(errkind.StackOverflow, msg)
	case strings.Contains(msg, "syntax error") || strings.Contains(msg, "unexpected symbol"):
		return errkind.New(errkind.Syntax, msg)
	default:
		return errkind.New(errkind.Runtime, msg)
	}
}
