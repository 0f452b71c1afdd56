// Package fault defines the error taxonomy shared by the verification and
// ingestion layers.
package fault

import (
	"errors"
	"net/http"
)

// Kind is a stable category for programmatic error handling.
//
// These categories are intended to remain stable across versions.
// Callers should branch on Kind rather than matching error strings.
type Kind string

const (
	// KindMalformed marks missing or invalid client input. Never retried.
	KindMalformed Kind = "Malformed"
	// KindMismatch marks a disagreement between client-supplied and
	// server-derived fields (handshake, tier, size, signature).
	KindMismatch Kind = "Mismatch"
	// KindExhausted marks a consumed resource: a used payment reference or a
	// depleted free allowance.
	KindExhausted Kind = "Exhausted"
	// KindInfrastructure marks a store or chain-client failure. Server fault;
	// retryable at the caller's discretion.
	KindInfrastructure Kind = "Infrastructure"
	// KindIntegrity marks data that failed a post-hoc consistency check, such
	// as a streamed ciphertext diverging from its declared length.
	KindIntegrity Kind = "Integrity"
)

// Error is the structured error type carried across the pipeline.
//
// Field names the offending input field when it is safe to reveal.
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func New(kind Kind, field, msg string) error {
	return &Error{Kind: kind, Field: field, Message: msg}
}

func Wrap(kind Kind, field, msg string, cause error) error {
	if cause == nil {
		return New(kind, field, msg)
	}
	return &Error{Kind: kind, Field: field, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind for a structured error, or "" if unknown.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// HTTPStatus maps an error to the response classification of the upload
// boundary: client-fault kinds are 400, infrastructure is 500, and anything
// unclassified is treated as infrastructure.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMalformed, KindMismatch, KindExhausted, KindIntegrity:
		return http.StatusBadRequest
	case KindInfrastructure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
