// Package protected implements the Protected Executor (spec §4.7,
// "Protected execution contract"): every guest entry point runs under a
// trap boundary that captures a panic or guest-reported failure,
// classifies it, optionally runs a recovery strategy, records a
// diagnostic, and returns a typed failure to the host.
package protected

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/lexlapax/go-llmspell/internal/errkind"
)

// RecoveryStrategy selects what happens to the owning execution context
// after a trap.
type RecoveryStrategy int

const (
	// Propagate leaves the context's state untouched; the caller decides
	// whether it remains usable.
	Propagate RecoveryStrategy = iota
	// ResetState restores the state to baseline so the context is
	// guaranteed usable for the next call.
	ResetState
	// CustomCallback invokes a caller-supplied recovery hook.
	CustomCallback
)

// Classifier maps a recovered panic value or guest-reported error into a
// Kind. Concrete engines supply this since only they can distinguish,
// say, a guest stack overflow from a generic runtime error.
type Classifier func(recovered interface{}) errkind.Kind

// Resetter restores a state to its sandbox baseline; exectx's State
// satisfies this via statepool.State.ResetBaseline.
type Resetter interface {
	ResetBaseline() error
}

// DefaultMaxTraceDepth bounds the captured stack trace unless
// WithMaxTraceDepth overrides it. The trace is always the Go runtime
// stack at the trap (debug.Stack); no guest-side stack trace is captured.
const DefaultMaxTraceDepth = 64

// Diagnostic is the structured record stored in a context's last-error
// slot after a trap.
type Diagnostic struct {
	Message    string
	Kind       errkind.Kind
	SourceName string
	Line       int
	Column     int
	StackTrace []string
}

func (d *Diagnostic) ToScriptError() *errkind.ScriptError {
	if d == nil {
		return nil
	}
	return &errkind.ScriptError{
		Message:    d.Message,
		Kind:       d.Kind,
		SourceName: d.SourceName,
		Line:       d.Line,
		Column:     d.Column,
		StackTrace: d.StackTrace,
	}
}

// Executor runs guest calls under the trap boundary described above.
type Executor struct {
	classifier    Classifier
	strategy      RecoveryStrategy
	customRecover func(*Diagnostic)
	maxTraceDepth int
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier installs the engine-specific panic/error classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) { e.classifier = c }
}

// WithRecoveryStrategy selects the post-trap recovery strategy.
func WithRecoveryStrategy(s RecoveryStrategy) Option {
	return func(e *Executor) { e.strategy = s }
}

// WithCustomRecovery installs the callback used when strategy is
// CustomCallback.
func WithCustomRecovery(fn func(*Diagnostic)) Option {
	return func(e *Executor) { e.customRecover = fn }
}

// WithMaxTraceDepth bounds the captured stack trace length.
func WithMaxTraceDepth(n int) Option {
	return func(e *Executor) { e.maxTraceDepth = n }
}

// New constructs an Executor. Without a Classifier, an error cause that
// carries an errkind Kind keeps that Kind and every other trap is
// classified as Runtime.
func New(opts ...Option) *Executor {
	e := &Executor{maxTraceDepth: DefaultMaxTraceDepth}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run invokes fn under the trap boundary. On a clean return, result and
// a nil Diagnostic are returned. On panic, the panic is recovered,
// classified, optionally recovered via resetter per the configured
// strategy, and a Diagnostic plus a typed *errkind.Error are returned
// instead of result's zero value.
func (e *Executor) Run(resetter Resetter, fn func() (uv interface{}, err error)) (result interface{}, diag *Diagnostic, callErr error) {
	defer func() {
		if r := recover(); r != nil {
			diag = e.classify(r)
			e.recover(resetter, diag)
			callErr = errkind.New(diag.Kind, diag.Message)
		}
	}()

	v, err := fn()
	if err != nil {
		diag = e.classify(err)
		e.recover(resetter, diag)
		return nil, diag, errkind.New(diag.Kind, diag.Message)
	}
	return v, nil, nil
}

func (e *Executor) classify(cause interface{}) *Diagnostic {
	kind := errkind.Runtime
	if e.classifier != nil {
		kind = e.classifier(cause)
	} else if err, ok := cause.(error); ok {
		if k := errkind.KindOf(err); k != "" {
			kind = k
		}
	}

	msg := fmt.Sprint(cause)
	if err, ok := cause.(error); ok {
		msg = err.Error()
	}

	return &Diagnostic{
		Message:    msg,
		Kind:       kind,
		StackTrace: captureTrace(e.maxTraceDepth),
	}
}

func (e *Executor) recover(resetter Resetter, diag *Diagnostic) {
	switch e.strategy {
	case ResetState:
		if resetter != nil {
			_ = resetter.ResetBaseline()
		}
	case CustomCallback:
		if e.customRecover != nil {
			e.customRecover(diag)
		}
	case Propagate:
		// no-op: context usability after a trap is left to the caller.
	}
}

func captureTrace(maxDepth int) []string {
	raw := string(debug.Stack())
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	if maxDepth > 0 && len(lines) > maxDepth {
		lines = lines[:maxDepth]
	}
	return lines
}
