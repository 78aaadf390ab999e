// Package bridge implements the value-bridge contract (spec §4.1): pushing
// a uv.Value onto a guest runtime's evaluation stack and pulling a uv.Value
// back off it, plus the opt-in reflection-driven struct<->Object marshaller.
//
// The push/pull operations themselves are engine-specific (a Lua stack and
// a JS heap don't share representations), so this package defines the
// StackBridge contract that concrete engines implement, and supplies the
// engine-independent pieces: struct marshalling, field-name transforms,
// and the failure model (never partial state).
package bridge

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// StackBridge is implemented by each concrete engine to push/pull a
// Universal Value against its own evaluation stack.
//
// Push must leave the guest stack unchanged on failure (any partially
// created guest sub-object is unwound). Pull must not mutate the guest
// stack on failure and must not produce a uv.Value on failure.
type StackBridge interface {
	// Push marshals v onto the top of the guest stack.
	Push(v uv.Value) error
	// Pull unmarshals the guest value at the given stack index.
	Pull(index int) (uv.Value, error)
}

// FieldNameTransform controls how Go struct field names map to Object
// keys during struct marshalling.
type FieldNameTransform int

const (
	// NoTransform uses the field name (or its `uv` tag) verbatim.
	NoTransform FieldNameTransform = iota
	// SnakeToCamel converts snake_case field/tag names to camelCase keys.
	SnakeToCamel
	// CamelToSnake converts camelCase field/tag names to snake_case keys.
	CamelToSnake
)

// Options configures the opt-in struct<->Object marshaller.
type Options struct {
	// IncludePrivate includes fields whose tag or name begins with "_".
	// Default false: such fields are excluded.
	IncludePrivate bool
	// MaxDepth bounds recursion through nested structs/slices/maps.
	// Zero means unlimited.
	MaxDepth int
	FieldNameTransform FieldNameTransform

	// skipUnion suppresses tagged-union detection for the one value being
	// marshalled as a union's "value" (see optsWithoutUnion).
	skipUnion bool
}

// TaggedUnion is implemented by Go types that should marshal as
// {tag: variant_name, value: UV} rather than a flat Object.
type TaggedUnion interface {
	Variant() string
}

// ToObject marshals a Go struct (or pointer to struct) into a uv.Value
// Object using field tags `uv:"name"` where present, or the transformed
// field name otherwise. Fields tagged `uv:"-"` are skipped.
func ToObject(src interface{}, opts Options) (uv.Value, error) {
	return toObjectDepth(reflect.ValueOf(src), opts, 0)
}

func toObjectDepth(rv reflect.Value, opts Options, depth int) (uv.Value, error) {
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return uv.Nil(), errkind.New(errkind.ConversionError, "max_depth exceeded during struct marshal")
	}
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return uv.Nil(), nil
		}
		rv = rv.Elem()
	}

	skipUnion := opts.skipUnion
	opts.skipUnion = false
	if tu, ok := asTaggedUnion(rv); ok && !skipUnion {
		inner, err := toObjectDepth(rv, optsWithoutUnion(opts), depth)
		if err != nil {
			return uv.Nil(), err
		}
		o := uv.NewObject()
		o.Set("tag", uv.StrFromString(tu.Variant()))
		o.Set("value", inner)
		return uv.ObjectValue(o), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return uv.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uv.Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return uv.Int(int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return uv.Float(rv.Float()), nil
	case reflect.String:
		return uv.StrFromString(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return uv.Nil(), nil
		}
		items := make([]uv.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := toObjectDepth(rv.Index(i), opts, depth+1)
			if err != nil {
				return uv.Nil(), err
			}
			items[i] = v
		}
		return uv.Array(items), nil
	case reflect.Map:
		if rv.IsNil() {
			return uv.Nil(), nil
		}
		o := uv.NewObject()
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			v, err := toObjectDepth(iter.Value(), opts, depth+1)
			if err != nil {
				return uv.Nil(), err
			}
			o.Set(key, v)
		}
		return uv.ObjectValue(o), nil
	case reflect.Struct:
		o := uv.NewObject()
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue // unexported
			}
			name, skip := fieldKey(f, opts)
			if skip {
				continue
			}
			v, err := toObjectDepth(rv.Field(i), opts, depth+1)
			if err != nil {
				return uv.Nil(), err
			}
			o.Set(name, v)
		}
		return uv.ObjectValue(o), nil
	case reflect.Invalid:
		return uv.Nil(), nil
	default:
		return uv.Nil(), errkind.New(errkind.ConversionError, "unmarshalable field kind: "+rv.Kind().String())
	}
}

// FromObject unmarshals a uv.Value Object into dst, which must be a
// non-nil pointer to a struct. Unknown keys are ignored.
func FromObject(v uv.Value, dst interface{}, opts Options) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errkind.New(errkind.ConversionError, "FromObject requires a non-nil pointer")
	}
	return fromValue(v, rv.Elem(), opts, 0)
}

func fromValue(v uv.Value, rv reflect.Value, opts Options, depth int) error {
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return errkind.New(errkind.ConversionError, "max_depth exceeded during struct unmarshal")
	}
	if v.IsNil() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			rv.Set(reflect.New(rv.Type().Elem()))
		}
		return fromValue(v, rv.Elem(), opts, depth)
	case reflect.Bool:
		b, ok := v.AsBool()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected bool")
		}
		rv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := v.AsInt()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected int")
		}
		rv.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, ok := v.AsInt()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected int")
		}
		rv.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		f, ok := v.AsFloat()
		if !ok {
			if i, iok := v.AsInt(); iok {
				f = float64(i)
			} else {
				return errkind.New(errkind.ConversionError, "expected float")
			}
		}
		rv.SetFloat(f)
	case reflect.String:
		s, ok := v.AsStr()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected string")
		}
		rv.SetString(string(s))
	case reflect.Slice:
		arr, ok := v.AsArray()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected array")
		}
		out := reflect.MakeSlice(rv.Type(), len(arr), len(arr))
		for i, e := range arr {
			if err := fromValue(e, out.Index(i), opts, depth+1); err != nil {
				return err
			}
		}
		rv.Set(out)
	case reflect.Map:
		obj, ok := v.AsObject()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected object")
		}
		out := reflect.MakeMapWithSize(rv.Type(), obj.Len())
		var rangeErr error
		obj.Range(func(k string, ev uv.Value) bool {
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := fromValue(ev, elem, opts, depth+1); err != nil {
				rangeErr = err
				return false
			}
			out.SetMapIndex(reflect.ValueOf(k), elem)
			return true
		})
		if rangeErr != nil {
			return rangeErr
		}
		rv.Set(out)
	case reflect.Struct:
		obj, ok := v.AsObject()
		if !ok {
			return errkind.New(errkind.ConversionError, "expected object for struct")
		}
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			name, skip := fieldKey(f, opts)
			if skip {
				continue
			}
			fv, present := obj.Get(name)
			if !present {
				continue
			}
			if err := fromValue(fv, rv.Field(i), opts, depth+1); err != nil {
				return err
			}
		}
	default:
		return errkind.New(errkind.ConversionError, "unmarshalable field kind: "+rv.Kind().String())
	}
	return nil
}

func fieldKey(f reflect.StructField, opts Options) (name string, skip bool) {
	tag := f.Tag.Get("uv")
	if tag == "-" {
		return "", true
	}
	name = f.Name
	if tag != "" {
		name = strings.Split(tag, ",")[0]
	}
	if !opts.IncludePrivate && strings.HasPrefix(name, "_") {
		return "", true
	}
	switch opts.FieldNameTransform {
	case SnakeToCamel:
		name = snakeToCamel(name)
	case CamelToSnake:
		name = camelToSnake(name)
	}
	return name, false
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func asTaggedUnion(rv reflect.Value) (TaggedUnion, bool) {
	if !rv.IsValid() || !rv.CanInterface() {
		return nil, false
	}
	if tu, ok := rv.Interface().(TaggedUnion); ok {
		return tu, true
	}
	if rv.CanAddr() {
		if tu, ok := rv.Addr().Interface().(TaggedUnion); ok {
			return tu, true
		}
	}
	return nil, false
}

// optsWithoutUnion marks opts so that marshalling the "value" field of a
// tagged union does not re-trigger union detection on the same value.
// The mark covers that one value only; its fields are checked as usual.
func optsWithoutUnion(opts Options) Options {
	opts.skipUnion = true
	return opts
}
