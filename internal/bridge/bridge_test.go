package bridge

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/uv"
)

type inner struct {
	Label string `uv:"label"`
}

type outer struct {
	Name    string   `uv:"name"`
	Count   int      `uv:"count"`
	Tags    []string `uv:"tags"`
	Child   inner    `uv:"child"`
	hidden  string   //nolint:unused
	Private string   `uv:"_private"`
}

func TestToObjectAndBack(t *testing.T) {
	src := outer{
		Name:    "widget",
		Count:   3,
		Tags:    []string{"a", "b"},
		Child:   inner{Label: "nested"},
		Private: "secret",
	}

	v, err := ToObject(src, Options{})
	if err != nil {
		t.Fatalf("ToObject: %v", err)
	}
	obj, ok := v.AsObject()
	if !ok {
		t.Fatalf("expected object")
	}
	if _, present := obj.Get("_private"); present {
		t.Fatalf("private field leaked without IncludePrivate")
	}
	if _, present := obj.Get("hidden"); present {
		t.Fatalf("unexported field must never be marshalled")
	}

	var dst outer
	if err := FromObject(v, &dst, Options{}); err != nil {
		t.Fatalf("FromObject: %v", err)
	}
	if dst.Name != "widget" || dst.Count != 3 || len(dst.Tags) != 2 || dst.Child.Label != "nested" {
		t.Fatalf("round trip mismatch: %+v", dst)
	}
	if dst.Private != "" {
		t.Fatalf("private field must not round-trip without IncludePrivate")
	}
}

func TestToObjectIncludePrivate(t *testing.T) {
	src := outer{Private: "secret"}
	v, err := ToObject(src, Options{IncludePrivate: true})
	if err != nil {
		t.Fatalf("ToObject: %v", err)
	}
	obj, _ := v.AsObject()
	got, present := obj.Get("_private")
	if !present {
		t.Fatalf("expected _private present with IncludePrivate")
	}
	s, _ := got.AsStr()
	if string(s) != "secret" {
		t.Fatalf("got %q, want secret", s)
	}
}

func TestMaxDepthExceeded(t *testing.T) {
	type level3 struct{ X int }
	type level2 struct{ L level3 }
	type level1 struct{ L level2 }

	_, err := ToObject(level1{}, Options{MaxDepth: 1})
	if err == nil {
		t.Fatalf("expected max_depth error")
	}
}

type taggedVariant struct {
	Value int `uv:"value"`
}

func (taggedVariant) Variant() string { return "int_variant" }

func TestTaggedUnionMarshal(t *testing.T) {
	v, err := ToObject(taggedVariant{Value: 42}, Options{})
	if err != nil {
		t.Fatalf("ToObject: %v", err)
	}
	obj, ok := v.AsObject()
	if !ok {
		t.Fatalf("expected object")
	}
	tag, ok := obj.Get("tag")
	if !ok {
		t.Fatalf("expected tag key")
	}
	s, _ := tag.AsStr()
	if string(s) != "int_variant" {
		t.Fatalf("tag = %q, want int_variant", s)
	}
	if _, present := obj.Get("value"); !present {
		t.Fatalf("expected value key wrapping inner object")
	}
}

func TestFieldNameTransformSnakeToCamel(t *testing.T) {
	type s struct {
		UserName string `uv:"user_name"`
	}
	v, err := ToObject(s{UserName: "ada"}, Options{FieldNameTransform: SnakeToCamel})
	if err != nil {
		t.Fatalf("ToObject: %v", err)
	}
	obj, _ := v.AsObject()
	if _, present := obj.Get("userName"); !present {
		t.Fatalf("expected userName key after snake_to_camel transform, got keys %v", obj.Keys())
	}
}

func TestFromObjectRejectsNonPointer(t *testing.T) {
	var dst outer
	err := FromObject(uv.Nil(), dst, Options{})
	if err == nil {
		t.Fatalf("expected error for non-pointer destination")
	}
}

func TestFromObjectWrongShape(t *testing.T) {
	var dst outer
	err := FromObject(uv.Int(5), &dst, Options{})
	if err == nil {
		t.Fatalf("expected error unmarshalling scalar into struct")
	}
}
