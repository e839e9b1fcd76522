// Package apierr provides the structured error taxonomy surfaced at every
// component boundary in the control plane. It generalizes the chained-error
// idiom used elsewhere in the runtime (message + optional cause, with
// errors.Is/As support via Unwrap) to the eight error kinds the request
// handler and streaming transcoders must distinguish.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for wire-protocol mapping and retry policy.
type Kind string

const (
	// TaskNotFound indicates an unknown task_id. Not retryable.
	TaskNotFound Kind = "task-not-found"
	// InvalidParams indicates a semantic validation failure (e.g. sending to
	// a terminal task). Not retryable.
	InvalidParams Kind = "invalid-params"
	// UnsupportedOperation indicates a feature requires an optional
	// collaborator (e.g. a push-notification store) that isn't configured.
	// Not retryable.
	UnsupportedOperation Kind = "unsupported-operation"
	// Authentication indicates the credential broker denied the request.
	// Retryable with new input.
	Authentication Kind = "authentication"
	// KeyUnavailable indicates EEK/DEK resolution failed. Requires operator
	// action; not retryable by the caller.
	KeyUnavailable Kind = "key-unavailable"
	// Cryptographic indicates ciphertext was invalid (e.g. wrong key, tag
	// mismatch). Never retried.
	Cryptographic Kind = "cryptographic"
	// Network indicates a transient upstream failure. Retryable.
	Network Kind = "network"
	// Internal indicates an invariant violation (id mismatch, missing
	// awakeable). Not retryable; should be logged and alerted on.
	Internal Kind = "internal"
)

// Error is a structured, chainable failure tagged with a Kind. Components
// construct an Error at the point of failure; the request handler and
// streaming transcoders map Kind to the wire-level error code.
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap constructs an Error of the given kind that wraps an underlying error,
// preserving the chain so errors.Is/As keeps working through Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: fromError(cause)}
}

// fromError converts an arbitrary error into an *Error chain, preserving an
// existing Kind if the error (or one of its wrapped causes) is already an
// *Error.
func fromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: Internal, Message: err.Error(), Cause: fromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap returns the wrapped cause, supporting errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether a caller may usefully retry the operation that
// produced this error, per the §7 taxonomy. Authentication is reported as
// retryable-with-new-input: callers must supply fresh credentials, not blind
// retries of the identical request.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case Network, Authentication:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, defaulting
// to Internal for opaque errors so unexpected failures are never silently
// downgraded to a retryable kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
