package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

func findFunc(t *testing.T, m Module, name string) FunctionDef {
	t.Helper()
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no such function: %s", name)
	return FunctionDef{}
}

func TestAssertEqPassAndFail(t *testing.T) {
	recorder := NewTestRecorder()
	m := NewTestModule(recorder)
	assertEq := findFunc(t, m, "assert_eq")

	if _, err := assertEq.Callback(nil, []uv.Value{uv.Int(1), uv.Int(1)}); err != nil {
		t.Fatalf("expected equal ints to pass, got %v", err)
	}
	_, err := assertEq.Callback(nil, []uv.Value{uv.Int(1), uv.Int(2)})
	if err == nil {
		t.Fatal("expected mismatched ints to fail")
	}
	if !errkind.Is(err, errkind.AssertionFailed) {
		t.Fatalf("expected AssertionFailed kind, got %v", errkind.KindOf(err))
	}
}

func TestAssertTrueFalse(t *testing.T) {
	recorder := NewTestRecorder()
	m := NewTestModule(recorder)
	assertTrue := findFunc(t, m, "assert_true")
	assertFalse := findFunc(t, m, "assert_false")

	if _, err := assertTrue.Callback(nil, []uv.Value{uv.Bool(true)}); err != nil {
		t.Fatalf("assert_true(true): %v", err)
	}
	if _, err := assertTrue.Callback(nil, []uv.Value{uv.Bool(false)}); err == nil {
		t.Fatal("expected assert_true(false) to fail")
	}
	if _, err := assertFalse.Callback(nil, []uv.Value{uv.Bool(false)}); err != nil {
		t.Fatalf("assert_false(false): %v", err)
	}
}

func TestAssertNilNotNil(t *testing.T) {
	recorder := NewTestRecorder()
	m := NewTestModule(recorder)
	assertNil := findFunc(t, m, "assert_nil")
	assertNotNil := findFunc(t, m, "assert_not_nil")

	if _, err := assertNil.Callback(nil, []uv.Value{uv.Nil()}); err != nil {
		t.Fatalf("assert_nil(nil): %v", err)
	}
	if _, err := assertNotNil.Callback(nil, []uv.Value{uv.Int(5)}); err != nil {
		t.Fatalf("assert_not_nil(5): %v", err)
	}
	if _, err := assertNotNil.Callback(nil, []uv.Value{uv.Nil()}); err == nil {
		t.Fatal("expected assert_not_nil(nil) to fail")
	}
}

func TestAssertContains(t *testing.T) {
	recorder := NewTestRecorder()
	m := NewTestModule(recorder)
	assertContains := findFunc(t, m, "assert_contains")

	if _, err := assertContains.Callback(nil, []uv.Value{uv.StrFromString("hello world"), uv.StrFromString("world")}); err != nil {
		t.Fatalf("assert_contains: %v", err)
	}
	if _, err := assertContains.Callback(nil, []uv.Value{uv.StrFromString("hello"), uv.StrFromString("xyz")}); err == nil {
		t.Fatal("expected assert_contains to fail")
	}
}

func TestFailAndSkipRecordResults(t *testing.T) {
	recorder := NewTestRecorder()
	m := NewTestModule(recorder)
	fail := findFunc(t, m, "fail")
	skip := findFunc(t, m, "skip")
	recordPass := findFunc(t, m, "record_pass")
	getResults := findFunc(t, m, "get_results")

	if _, err := fail.Callback(nil, []uv.Value{uv.StrFromString("t1"), uv.StrFromString("boom")}); !errkind.Is(err, errkind.TestFailed) {
		t.Fatalf("expected TestFailed, got %v", err)
	}
	if _, err := skip.Callback(nil, []uv.Value{uv.StrFromString("t2"), uv.StrFromString("not ready")}); !errkind.Is(err, errkind.TestSkipped) {
		t.Fatalf("expected TestSkipped, got %v", err)
	}
	if _, err := recordPass.Callback(nil, []uv.Value{uv.StrFromString("t3")}); err != nil {
		t.Fatalf("record_pass: %v", err)
	}

	result, err := getResults.Callback(nil, nil)
	if err != nil {
		t.Fatalf("get_results: %v", err)
	}
	items, _ := result.AsArray()
	if len(items) != 3 {
		t.Fatalf("expected 3 results, got %d", len(items))
	}
	firstObj, _ := items[0].AsObject()
	nameV, _ := firstObj.Get("name")
	name, _ := nameV.AsStr()
	if string(name) != "t1" {
		t.Fatalf("expected first result name t1, got %q", name)
	}
}

func TestResetClearsResults(t *testing.T) {
	recorder := NewTestRecorder()
	recorder.Record(TestResult{Name: "x", Passed: true})
	recorder.Reset()
	if len(recorder.Results()) != 0 {
		t.Fatal("expected Reset to clear results")
	}
}
