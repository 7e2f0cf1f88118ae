package flow

import (
	"errors"
	"fmt"
)

// ErrorKind classifies upstream failures so retry policy is a pure
// function of the kind instead of type assertions on wrapped causes.
type ErrorKind int

const (
	// KindTransient is an upstream HTTP rejection (4xx/5xx). The caller
	// reports the account failure and rotates to the next account.
	KindTransient ErrorKind = iota
	// KindPermanent is a local error (marshaling, transport setup,
	// programming). Never retried across accounts.
	KindPermanent
	// KindCredentialExpired means the whole cookie jar is stale, not just
	// the bearer token. Triggers a full cookie refresh out-of-band.
	KindCredentialExpired
	// KindNoCredentials means no jar is stored and no legacy fallback is
	// configured.
	KindNoCredentials
	// KindExhausted means every account attempt failed or no healthy
	// account remains.
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindPermanent:
		return "Permanent"
	case KindCredentialExpired:
		return "CredentialExpired"
	case KindNoCredentials:
		return "NoCredentials"
	case KindExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned by this package.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the error's kind. Errors that did not come from this
// package default to Permanent: unknown failures must never trigger
// account rotation.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindPermanent
}

// IsKind reports whether the error carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsSessionExpired reports whether the error signals a stale cookie jar.
func IsSessionExpired(err error) bool {
	return IsKind(err, KindCredentialExpired)
}
