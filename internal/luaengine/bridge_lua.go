package luaengine

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// push implements bridge.StackBridge.Push against this state's *lua.LState:
// it marshals a uv.Value into the equivalent lua.LValue. Per the
// failure model (spec §4.1), a partially-built lua.LTable from a nested
// array/object is discarded (never returned or left rooted anywhere) the
// moment any element fails to marshal, so the guest never observes a
// half-constructed value.
func (s *State) push(v uv.Value) (lua.LValue, error) {
	switch v.Kind() {
	case uv.KindNil:
		return lua.LNil, nil
	case uv.KindBool:
		b, _ := v.AsBool()
		return lua.LBool(b), nil
	case uv.KindInt:
		i, _ := v.AsInt()
		return lua.LNumber(i), nil
	case uv.KindFloat:
		f, _ := v.AsFloat()
		return lua.LNumber(f), nil
	case uv.KindStr:
		b, _ := v.AsStr()
		return lua.LString(string(b)), nil
	case uv.KindArray:
		arr, _ := v.AsArray()
		t := s.ls.NewTable()
		for _, e := range arr {
			lv, err := s.push(e)
			if err != nil {
				return nil, err
			}
			t.Append(lv)
		}
		return t, nil
	case uv.KindObject:
		obj, _ := v.AsObject()
		t := s.ls.NewTable()
		var pushErr error
		obj.Range(func(k string, ev uv.Value) bool {
			lv, err := s.push(ev)
			if err != nil {
				pushErr = err
				return false
			}
			t.RawSetString(k, lv)
			return true
		})
		if pushErr != nil {
			return nil, pushErr
		}
		return t, nil
	case uv.KindFunction:
		fh, _ := v.AsFunction()
		if luaFn, ok := fh.(*functionHandle); ok {
			return luaFn.fn, nil
		}
		return nil, errkind.New(errkind.ConversionError, "function handle did not originate from this engine")
	case uv.KindUserData:
		ud, _ := v.AsUserData()
		luv := s.ls.NewUserData()
		luv.Value = ud
		return luv, nil
	default:
		return nil, errkind.New(errkind.ConversionError, "unsupported UV kind for push")
	}
}

// pull implements bridge.StackBridge.Pull: it observes a lua.LValue and
// produces the equivalent uv.Value. A Lua nil always pulls as Nil
// regardless of any NilPolicy the caller applies downstream (NilPolicy
// only governs the should_treat_as_nil predicate, never push/pull).
func (s *State) pull(lv lua.LValue) (uv.Value, error) {
	switch lv.Type() {
	case lua.LTNil:
		return uv.Nil(), nil
	case lua.LTBool:
		return uv.Bool(bool(lv.(lua.LBool))), nil
	case lua.LTNumber:
		n := float64(lv.(lua.LNumber))
		if n == float64(int64(n)) {
			return uv.Int(int64(n)), nil
		}
		return uv.Float(n), nil
	case lua.LTString:
		return uv.StrFromString(string(lv.(lua.LString))), nil
	case lua.LTTable:
		return s.pullTable(lv.(*lua.LTable))
	case lua.LTFunction:
		fn := lv.(*lua.LFunction)
		return uv.Function(&functionHandle{fn: fn, id: functionID(fn)}), nil
	case lua.LTUserData:
		ud := lv.(*lua.LUserData)
		if hostUD, ok := ud.Value.(*uv.UserData); ok {
			return uv.UserDataValue(hostUD), nil
		}
		return uv.Nil(), errkind.New(errkind.ConversionError, "userdata did not originate from this engine")
	case lua.LTThread:
		// Coroutines are non-portable across the bridge (spec §4.1): a
		// thread pulls as an opaque placeholder userdata rather than
		// failing outright, with no guarantee it round-trips back to a
		// usable lua.LState.
		return uv.UserDataValue(&uv.UserData{
			Ptr:      lv,
			TypeName: "lua.thread",
		}), nil
	default:
		return uv.Nil(), errkind.New(errkind.ConversionError, "unsupported Lua type for pull: "+lv.Type().String())
	}
}

// pullTable distinguishes a Lua array-shaped table (1..n contiguous
// integer keys) from an object-shaped table, mirroring the bridge's
// per-variant observation table.
func (s *State) pullTable(t *lua.LTable) (uv.Value, error) {
	n := t.Len()
	if n > 0 && n == countKeys(t) {
		items := make([]uv.Value, n)
		for i := 1; i <= n; i++ {
			v, err := s.pull(t.RawGetInt(i))
			if err != nil {
				return uv.Nil(), err
			}
			items[i-1] = v
		}
		return uv.Array(items), nil
	}

	o := uv.NewObject()
	var pullErr error
	t.ForEach(func(k, v lua.LValue) {
		if pullErr != nil {
			return
		}
		uvv, err := s.pull(v)
		if err != nil {
			pullErr = err
			return
		}
		o.Set(k.String(), uvv)
	})
	if pullErr != nil {
		return uv.Nil(), pullErr
	}
	return uv.ObjectValue(o), nil
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// functionHandle adapts a *lua.LFunction to uv.FunctionHandle.
type functionHandle struct {
	fn *lua.LFunction
	id string
}

func (f *functionHandle) Release() {} // gopher-lua functions are GC'd normally; nothing to pin/unpin explicitly.
func (f *functionHandle) ID() string  { return f.id }

func functionID(fn *lua.LFunction) string {
	return fn.String()
}
