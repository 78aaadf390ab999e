// Package errkind defines the typed error classification shared by every
// substrate component: the value bridge, the execution context, the
// protected executor, and the tenant manager all surface failures as a
// Kind plus a wrapped sentinel, so host code can branch on errors.Is /
// errors.As without parsing strings.
package errkind

import "errors"

// Kind classifies a substrate failure. Every error the substrate returns
// across a public API boundary carries exactly one Kind.
type Kind string

const (
	Syntax           Kind = "syntax"
	Runtime          Kind = "runtime"
	Type             Kind = "type"
	MemoryLimit      Kind = "memory_limit"
	Timeout          Kind = "timeout"
	StackOverflow    Kind = "stack_overflow"
	Capability       Kind = "capability"
	ConversionError  Kind = "conversion_error"
	TenantNotFound   Kind = "tenant_not_found"
	TenantExists     Kind = "tenant_already_exists"
	CapacityExceeded Kind = "capacity_exceeded"
	SecurityViolation Kind = "security_violation"
	SchemaNotFound   Kind = "schema_not_found"
	ToolNotFound     Kind = "tool_not_found"
	ToolExists       Kind = "tool_already_exists"
	AgentNotFound    Kind = "agent_not_found"
	WorkflowNotFound Kind = "workflow_not_found"
	MemoryStoreNotFound Kind = "memory_store_not_found"
	InvalidArguments Kind = "invalid_arguments"
	MissingField     Kind = "missing_field"
	InvalidEventType Kind = "invalid_event_type"
	InvalidHookType  Kind = "invalid_hook_type"
	InvalidRole      Kind = "invalid_role"
	InvalidMemoryType Kind = "invalid_memory_type"
	AssertionFailed  Kind = "assertion_failed"
	TestFailed       Kind = "test_failed"
	TestSkipped      Kind = "test_skipped"
	OutOfMemory      Kind = "out_of_memory"
)

// Error is the typed failure returned across every substrate public API.
// It wraps an underlying cause (possibly nil) and carries the Kind used
// for host-side branching.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a typed Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs a typed Error wrapping cause. If cause is already a
// *Error and kind is empty, its Kind is reused.
func Wrap(kind Kind, msg string, cause error) *Error {
	if kind == "" {
		kind = KindOf(cause)
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err is a substrate Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, or "" if err is not a
// substrate Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ScriptError is the structured diagnostic stored in a context's
// last-error slot after a trapped guest failure (spec §7).
type ScriptError struct {
	Message    string `json:"message"`
	Kind       Kind   `json:"kind"`
	SourceName string `json:"source_name,omitempty"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	StackTrace []string `json:"stack_trace,omitempty"`
}

func (s *ScriptError) Error() string {
	if s == nil {
		return ""
	}
	return string(s.Kind) + ": " + s.Message
}

// FromError builds a ScriptError from a typed Error, defaulting to
// Kind Runtime when err does not carry a substrate Kind.
func FromError(err error) *ScriptError {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	if kind == "" {
		kind = Runtime
	}
	return &ScriptError{Message: err.Error(), Kind: kind}
}
