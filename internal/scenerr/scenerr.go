// Package scenerr defines the error taxonomy shared across the scenario
// execution engine: validation, resolution, graph, dispatch, HTTP-status,
// loop-safety and cancellation errors all wrap the same typed Error so
// callers can branch on Kind with errors.As instead of string matching.
package scenerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error without requiring callers to inspect its message.
type Kind string

const (
	// KindValidation marks a parameter that failed ParameterSchema validation.
	// Returned from Run before any state transition; the run never starts.
	KindValidation Kind = "validation"
	// KindResolution marks an unresolved ${...} path. Soft: logged at warn,
	// substituted as empty.
	KindResolution Kind = "resolution"
	// KindGraph marks a structural problem in the scenario graph itself
	// (duplicate step id, dangling edge, a step in two containers, missing
	// start step, a condition step with fewer than two branches, or a step
	// id that cannot be found at run time). Fatal: the run fails. Cyclic
	// container nesting and several plain outgoing edges on one step are
	// not reported with this kind.
	KindGraph Kind = "graph"
	// KindDispatch marks a network/timeout failure from the Request
	// Dispatcher.
	KindDispatch Kind = "dispatch"
	// KindHTTPStatus marks a response that arrived but whose status is
	// treated as a failure (retry-eligible or otherwise unhandled).
	KindHTTPStatus Kind = "http_status"
	// KindLoopSafety marks a while-loop that exhausted maxIterations.
	KindLoopSafety Kind = "loop_safety"
	// KindCancelled marks termination via Cancel(). Not an error to
	// recover from.
	KindCancelled Kind = "cancelled"
)

// Error is the single error type used across the engine. Field presence
// varies by Kind: StepID is empty for run-level GraphError/ValidationError,
// Status is only meaningful for KindHTTPStatus.
type Error struct {
	Kind    Kind
	StepID  string
	Field   string
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.StepID != "" && e.Field != "":
		return fmt.Sprintf("%s: %s[%s]: %s", e.Kind, e.StepID, e.Field, e.Message)
	case e.StepID != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.StepID, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, scenerr.KindGraph-shaped sentinel) work by kind
// alone when callers don't care about the message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func ValidationErr(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func GraphErr(format string, args ...any) *Error {
	return Newf(KindGraph, format, args...)
}

func DispatchErr(stepID string, cause error) *Error {
	return &Error{Kind: KindDispatch, StepID: stepID, Message: cause.Error(), Cause: cause}
}

func HTTPStatusErr(stepID string, status int, message string) *Error {
	return &Error{Kind: KindHTTPStatus, StepID: stepID, Status: status, Message: message}
}

func LoopSafetyErr(stepID string, maxIterations int) *Error {
	return &Error{
		Kind:    KindLoopSafety,
		StepID:  stepID,
		Message: fmt.Sprintf("loop exceeded maxIterations (%d) without terminating", maxIterations),
	}
}

func CancelledErr(stepID string) *Error {
	return &Error{Kind: KindCancelled, StepID: stepID, Message: "run was cancelled"}
}

// OfKind reports whether err (or something it wraps) is a *Error with the
// given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
