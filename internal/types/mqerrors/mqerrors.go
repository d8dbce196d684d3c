// Package mqerrors defines the error taxonomy shared by every layer of the
// merge queue core. Every fallible operation returns a *Error carrying one
// of the kinds below so callers can branch on Kind rather than on string
// comparisons or driver-specific sentinels.
package mqerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure as retryable or terminal. The mapping is fixed
// by the retryable table below; it is not a per-call decision.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindNotFound         Kind = "NotFound"
	KindInvalidTransition Kind = "InvalidTransition"
	KindNotLockHolder    Kind = "NotLockHolder"
	KindLockContention   Kind = "LockContention"
	KindStoreError       Kind = "StoreError"
	KindRebaseConflict   Kind = "RebaseConflict"
	KindTestFailedOnMerits Kind = "TestFailedOnMerits"
	KindTestInfraFailure Kind = "TestInfraFailure"
	KindMergeRejected    Kind = "MergeRejected"
	KindWorkspaceMissing Kind = "WorkspaceMissing"
	KindTimeout          Kind = "Timeout"
	KindUnknown          Kind = "Unknown"
)

// retryable is the single source of truth for §7's Retryable? column.
// Unknown errors default to terminal (fail closed).
var retryable = map[Kind]bool{
	KindValidation:         false,
	KindNotFound:           false,
	KindInvalidTransition:  false,
	KindNotLockHolder:      false,
	KindLockContention:     true,
	KindStoreError:         true,
	KindRebaseConflict:     true,
	KindTestFailedOnMerits: false,
	KindTestInfraFailure:   true,
	KindMergeRejected:      true,
	KindWorkspaceMissing:   false,
	KindTimeout:            true,
	KindUnknown:            false,
}

// Retryable reports whether errors of this kind are eligible for retry
// under the worker's attempt budget. Unknown kinds are not retryable.
func (k Kind) Retryable() bool {
	r, ok := retryable[k]
	return ok && r
}

// Error is the structured failure type returned by Store, Queue, and
// Worker operations. It wraps an underlying cause and carries an optional
// remedial suggestion for CLI/process-interface consumers.
type Error struct {
	Kind       Kind
	Op         string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s: %v (%s)", e.Op, e.Kind, e.Err, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf constructs an Error of the given kind from a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithSuggestion attaches a remedial suggestion and returns the receiver
// for chaining at the call site.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns KindUnknown, matching the fail-closed
// default in spec.md §4.5.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable is a convenience wrapper around KindOf(err).Retryable().
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
