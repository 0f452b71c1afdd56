package handshake

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
type Kind string

const (
	// KindMalformed covers structural failures: header or intro mismatch,
	// missing separators, unknown or missing fields.
	KindMalformed Kind = "MalformedMessage"
	// KindInvalidNumber covers numeric fields that do not parse as
	// non-negative integers.
	KindInvalidNumber Kind = "InvalidNumber"
	// KindInvalidField covers semantically invalid values, such as addresses
	// that are not hex.
	KindInvalidField Kind = "InvalidField"
)

// Error is the package's structured error type.
//
// RuleID is a stable identifier (e.g. HSK-STR-001) naming the violated
// invariant. Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

func newError(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
