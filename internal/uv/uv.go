// Package uv implements the Universal Value: the tagged sum type that
// carries every value crossing the host/guest boundary. All nested
// storage (array elements, object entries, owned byte strings) is owned
// by the UV that contains it; destruction is recursive.
//
// # Nil policy
//
// Three nil-classification policies are supported via NilPolicy and
// ShouldTreatAsNil. They only affect the helper predicate, never the
// push/pull semantics of the bridge: a Lua nil always pulls as Nil
// regardless of policy.
package uv

import "fmt"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindStr
	KindArray
	KindObject
	KindFunction
	KindUserData
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindStr:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindFunction:
		return "function"
	case KindUserData:
		return "userdata"
	default:
		return "unknown"
	}
}

// FunctionHandle is an opaque reference to a guest callable. Releasing
// the handle (via Release) drops the guest-side strong pin that keeps
// the function reachable; it is safe to call Release more than once.
type FunctionHandle interface {
	// Release drops the guest-side pin held for this handle.
	Release()
	// ID returns an engine-assigned identity stable for the handle's
	// lifetime, used by the weak-reference registry and diagnostics.
	ID() string
}

// UserData is a host-owned opaque value made visible to the guest
// through a registered type. TypeName binds the value to a
// userdata.TypeInfo entry; the pointer is only valid while that registry
// entry is live.
type UserData struct {
	Ptr        interface{}
	TypeName   string
	TypeVersion [3]int // major, minor, patch at creation time
	Destructor func(interface{})
}

// Value is the tagged sum type. The zero Value is Nil.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    []byte
	arr  []Value
	obj  *Object
	fn   FunctionHandle
	ud   *UserData
}

// Object is an insertion-order-preserving string-keyed map.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Set inserts or overwrites key, preserving first-insertion order.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value for key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Delete removes key, preserving the order of the remaining keys.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of entries.
func (o *Object) Len() int { return len(o.keys) }

// Range calls fn for each key/value pair in insertion order. Stops early
// if fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	for _, k := range o.keys {
		if !fn(k, o.values[k]) {
			return
		}
	}
}

// Constructors.

func Nil() Value                 { return Value{kind: KindNil} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func Str(s []byte) Value         { cp := append([]byte(nil), s...); return Value{kind: KindStr, s: cp} }
func StrFromString(s string) Value { return Str([]byte(s)) }
func Array(items []Value) Value {
	cp := append([]Value(nil), items...)
	return Value{kind: KindArray, arr: cp}
}
func ObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }
func Function(h FunctionHandle) Value { return Value{kind: KindFunction, fn: h} }
func UserDataValue(ud *UserData) Value { return Value{kind: KindUserData, ud: ud} }

// Accessors. Each As* helper reports ok=false when called against the
// wrong Kind; none of them panics.

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNil() bool { return v.kind == KindNil }

func (v Value) AsBool() (bool, bool)           { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)           { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)       { return v.f, v.kind == KindFloat }
func (v Value) AsStr() ([]byte, bool)          { return v.s, v.kind == KindStr }
func (v Value) AsArray() ([]Value, bool)       { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (*Object, bool)      { return v.obj, v.kind == KindObject }
func (v Value) AsFunction() (FunctionHandle, bool) { return v.fn, v.kind == KindFunction }
func (v Value) AsUserData() (*UserData, bool)  { return v.ud, v.kind == KindUserData }

// NilPolicy selects how ShouldTreatAsNil classifies a Value. It never
// alters push/pull semantics — only the predicate used by scripts that
// opt into a looser truthiness check.
type NilPolicy uint8

const (
	// Strict: only an explicit Nil value is nil.
	Strict NilPolicy = iota
	// Lenient: nil or a missing key/index is nil (callers pass Nil()
	// for "missing" since UV itself has no separate "absent" marker).
	Lenient
	// JavaScriptLike: nil, false, 0, 0.0, and "" are all "nullish".
	JavaScriptLike
)

// ShouldTreatAsNil implements the should_treat_as_nil helper from the
// value-bridge contract (spec §4.1). It is a read-only predicate: it
// never mutates v and is never consulted by push/pull.
func ShouldTreatAsNil(v Value, policy NilPolicy) bool {
	switch policy {
	case Strict, Lenient:
		return v.kind == KindNil
	case JavaScriptLike:
		switch v.kind {
		case KindNil:
			return true
		case KindBool:
			b, _ := v.AsBool()
			return !b
		case KindInt:
			i, _ := v.AsInt()
			return i == 0
		case KindFloat:
			f, _ := v.AsFloat()
			return f == 0
		case KindStr:
			s, _ := v.AsStr()
			return len(s) == 0
		default:
			return false
		}
	default:
		return v.kind == KindNil
	}
}

// Equal reports deep structural equality: same Kind and, recursively,
// equal contents. Function and UserData values are equal only by
// identity (same handle / same pointer).
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindStr:
		return string(a.s) == string(b.s)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if a.obj == nil || b.obj == nil {
			return a.obj == b.obj
		}
		if a.obj.Len() != b.obj.Len() {
			return false
		}
		ok := true
		a.obj.Range(func(k string, v Value) bool {
			bv, present := b.obj.Get(k)
			if !present || !Equal(v, bv) {
				ok = false
				return false
			}
			return true
		})
		return ok
	case KindFunction:
		return a.fn == b.fn
	case KindUserData:
		return a.ud == b.ud
	default:
		return false
	}
}

// Depth returns the structural nesting depth of v (0 for scalars, 1 for
// a flat array/object, etc.), used to enforce struct-marshal max_depth.
func Depth(v Value) int {
	switch v.kind {
	case KindArray:
		max := 0
		for _, e := range v.arr {
			if d := Depth(e); d > max {
				max = d
			}
		}
		return max + 1
	case KindObject:
		if v.obj == nil {
			return 1
		}
		max := 0
		v.obj.Range(func(_ string, e Value) bool {
			if d := Depth(e); d > max {
				max = d
			}
			return true
		})
		return max + 1
	default:
		return 0
	}
}

// String renders a debug representation; not used for guest-visible
// string coercion.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindStr:
		return string(v.s)
	case KindArray:
		return fmt.Sprintf("array[%d]", len(v.arr))
	case KindObject:
		n := 0
		if v.obj != nil {
			n = v.obj.Len()
		}
		return fmt.Sprintf("object[%d]", n)
	case KindFunction:
		return "function"
	case KindUserData:
		return fmt.Sprintf("userdata(%s)", v.ud.TypeName)
	default:
		return "<invalid>"
	}
}
