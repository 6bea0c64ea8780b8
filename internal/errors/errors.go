// Package errors defines the stable error taxonomy of the analysis engine.
// Stage and job failures are recorded on analysis records and never raised
// past the orchestrator boundary; only infrastructure faults carry one of
// these errors back to the caller of Submit.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a failure mode. The set is closed; layers share it and
// the persistence adapter is the only place it is converted to a string.
type Code string

const (
	// ProbeFailed means the fingerprint of a repository could not be
	// obtained. Callers must treat it as "fingerprint unknown", never as
	// "unchanged".
	ProbeFailed Code = "PROBE_FAILED"
	// ToolUnavailable means an analysis strategy's tool is not present or
	// not built in. Triggers fallback, not job failure.
	ToolUnavailable Code = "TOOL_UNAVAILABLE"
	// StageFailed means a strategy ran and failed (parse error, timeout).
	StageFailed Code = "STAGE_FAILED"
	// JobCancelled means an in-flight job was cancelled by the caller.
	JobCancelled Code = "JOB_CANCELLED"
	// RepoUnavailable means the repository could not be materialized.
	RepoUnavailable Code = "REPO_UNAVAILABLE"
	// StoreUnavailable means the analysis record store is unreachable.
	StoreUnavailable Code = "STORE_UNAVAILABLE"
	// InvalidRequest means a submission failed validation.
	InvalidRequest Code = "INVALID_REQUEST"
	// Internal is an unexpected error.
	Internal Code = "INTERNAL_ERROR"
)

// Error is a coded engine error wrapping an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error around a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the code from an error chain, or Internal if the chain
// carries no coded error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsCancelled reports whether the error chain marks a cancelled job.
func IsCancelled(err error) bool {
	return HasCode(err, JobCancelled)
}

// As, Is and Unwrap re-exports so call sites only import one errors package.
var (
	As     = errors.As
	Is     = errors.Is
	Unwrap = errors.Unwrap
)
