// Package process implements the language-agnostic process interface
// spec.md §6 describes: submit/claim/renew/report/cancel/reclaim_stale/
// list/status/stats, wrapped in a structured response envelope for
// machine clients. Grounded on the teacher's internal/rpc response
// conventions (rpc.Response's Success/Data/Error shape), adapted to a
// typed, non-JSON-RPC envelope since this core has no daemon/socket
// layer of its own.
package process

import (
	"errors"

	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// Envelope is the structured response spec.md §6 calls for: a schema
// identifier for forward-compatible machine clients, a success flag, the
// typed payload on success, and an ErrorDetail on failure.
type Envelope[T any] struct {
	Schema  string       `json:"schema"`
	Success bool         `json:"success"`
	Data    T            `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the machine-readable failure shape: a short code, a
// human message, and an optional remedial suggestion.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Schema is the envelope's schema identifier, versioned so clients can
// detect a breaking change to the envelope shape itself.
const Schema = "mergequeue.v1"

// Ok wraps a successful result.
func Ok[T any](data T) Envelope[T] {
	return Envelope[T]{Schema: Schema, Success: true, Data: data}
}

// Fail wraps err into a failure envelope of the same generic type T, zero-
// valuing Data since a failure carries no payload.
func Fail[T any](err error) Envelope[T] {
	kind := mqerrors.KindOf(err)
	detail := &ErrorDetail{Code: string(kind), Message: err.Error()}
	var merr *mqerrors.Error
	if errors.As(err, &merr) && merr.Suggestion != "" {
		detail.Suggestion = merr.Suggestion
	}
	var zero T
	return Envelope[T]{Schema: Schema, Success: false, Data: zero, Error: detail}
}
