package modules

import (
	"strings"
	"sync"

	"github.com/lexlapax/go-llmspell/internal/errkind"
	"github.com/lexlapax/go-llmspell/internal/exectx"
	"github.com/lexlapax/go-llmspell/internal/uv"
)

// TestResult is the outcome of one guest-defined test case.
type TestResult struct {
	Name    string `uv:"name"`
	Passed  bool   `uv:"passed"`
	Skipped bool   `uv:"skipped"`
	Message string `uv:"message"`
}

// TestRecorder accumulates results reported by guest test code via the
// "test" module's fail/skip/record_pass functions, mirroring the teacher's
// "plain assertion, no framework magic" testing style rather than a
// full BDD runner.
type TestRecorder struct {
	mu      sync.Mutex
	results []TestResult
}

// NewTestRecorder returns an empty recorder.
func NewTestRecorder() *TestRecorder {
	return &TestRecorder{}
}

// Record appends a result.
func (r *TestRecorder) Record(result TestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

// Results returns every recorded result, in report order.
func (r *TestRecorder) Results() []TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TestResult(nil), r.results...)
}

// Reset clears accumulated results.
func (r *TestRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = nil
}

func resultToUV(r TestResult) uv.Value {
	o := uv.NewObject()
	o.Set("name", uv.StrFromString(r.Name))
	o.Set("passed", uv.Bool(r.Passed))
	o.Set("skipped", uv.Bool(r.Skipped))
	o.Set("message", uv.StrFromString(r.Message))
	return uv.ObjectValue(o)
}

// NewTestModule builds the "test" script module: the assertion
// primitives propagate as typed errkind.AssertionFailed errors (so a
// protected-executor-wrapped test run traps them the same way any other
// guest error traps) and record nothing, while fail, skip and record_pass
// log a TestResult against recorder for a later get_results() report.
func NewTestModule(recorder *TestRecorder) Module {
	assertEq := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		if !uv.Equal(args[0], args[1]) {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_eq failed: "+args[0].String()+" != "+args[1].String())
		}
		return uv.Nil(), nil
	}
	assertNe := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		if uv.Equal(args[0], args[1]) {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_ne failed: values are equal")
		}
		return uv.Nil(), nil
	}
	assertTrue := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		b, ok := args[0].AsBool()
		if !ok || !b {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_true failed")
		}
		return uv.Nil(), nil
	}
	assertFalse := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		b, ok := args[0].AsBool()
		if !ok || b {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_false failed")
		}
		return uv.Nil(), nil
	}
	assertNil := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		if !args[0].IsNil() {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_nil failed")
		}
		return uv.Nil(), nil
	}
	assertNotNil := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		if args[0].IsNil() {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_not_nil failed")
		}
		return uv.Nil(), nil
	}
	assertContains := func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
		haystack, ok1 := args[0].AsStr()
		needle, ok2 := args[1].AsStr()
		if !ok1 || !ok2 {
			return uv.Nil(), errkind.New(errkind.InvalidArguments, "assert_contains requires two strings")
		}
		if !strings.Contains(string(haystack), string(needle)) {
			return uv.Nil(), errkind.New(errkind.AssertionFailed, "assert_contains failed: "+string(haystack)+" does not contain "+string(needle))
		}
		return uv.Nil(), nil
	}

	return Module{
		Name:        "test",
		Version:     "1.0.0",
		Description: "Assertion primitives and a flat test-result recorder for guest test suites.",
		Functions: []FunctionDef{
			{Name: "assert_eq", Description: "Assert two values are equal.", Arity: Fixed(2), Callback: assertEq},
			{Name: "assert_ne", Description: "Assert two values are not equal.", Arity: Fixed(2), Callback: assertNe},
			{Name: "assert_true", Description: "Assert a boolean is true.", Arity: Fixed(1), Callback: assertTrue},
			{Name: "assert_false", Description: "Assert a boolean is false.", Arity: Fixed(1), Callback: assertFalse},
			{Name: "assert_nil", Description: "Assert a value is nil.", Arity: Fixed(1), Callback: assertNil},
			{Name: "assert_not_nil", Description: "Assert a value is not nil.", Arity: Fixed(1), Callback: assertNotNil},
			{Name: "assert_contains", Description: "Assert a string contains a substring.", Arity: Fixed(2), Callback: assertContains},
			{
				Name: "fail", Description: "Unconditionally fail, recording an entry under the given test name.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok1 := args[0].AsStr()
					msg, ok2 := args[1].AsStr()
					if !ok1 || !ok2 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "test.fail requires (name, message) strings")
					}
					recorder.Record(TestResult{Name: string(name), Passed: false, Message: string(msg)})
					return uv.Nil(), errkind.New(errkind.TestFailed, string(msg))
				},
			},
			{
				Name: "skip", Description: "Record a test as skipped under the given name.", Arity: Fixed(2),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok1 := args[0].AsStr()
					reason, ok2 := args[1].AsStr()
					if !ok1 || !ok2 {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "test.skip requires (name, reason) strings")
					}
					recorder.Record(TestResult{Name: string(name), Skipped: true, Message: string(reason)})
					return uv.Nil(), errkind.New(errkind.TestSkipped, string(reason))
				},
			},
			{
				Name: "record_pass", Description: "Record a passing result under the given test name.", Arity: Fixed(1),
				Callback: func(_ *exectx.Context, args []uv.Value) (uv.Value, error) {
					name, ok := args[0].AsStr()
					if !ok {
						return uv.Nil(), errkind.New(errkind.InvalidArguments, "test.record_pass requires a string name")
					}
					recorder.Record(TestResult{Name: string(name), Passed: true})
					return uv.Nil(), nil
				},
			},
			{
				Name: "get_results", Description: "Return every recorded test result in report order.", Arity: Fixed(0),
				Callback: func(_ *exectx.Context, _ []uv.Value) (uv.Value, error) {
					results := recorder.Results()
					items := make([]uv.Value, len(results))
					for i, r := range results {
						items[i] = resultToUV(r)
					}
					return uv.Array(items), nil
				},
			},
		},
	}
}
