// Package mxerr defines the error taxonomy shared across the request
// pipeline, modeled on toolhive's pkg/errors typed-error pattern.
package mxerr

import "fmt"

// Type identifies which bucket of the spec §7 error taxonomy an Error
// belongs to. Handlers switch on Type to pick an HTTP status and an
// OAuth-style error code; the audit pipeline records it verbatim.
type Type string

const (
	InvalidRequest     Type = "invalid_request"
	Unauthorized       Type = "unauthorized"
	Forbidden          Type = "forbidden"
	InvalidGrant       Type = "invalid_grant"
	InvalidState       Type = "invalid_state"
	UnauthorizedClient Type = "unauthorized_client"
	ValidationError    Type = "validation_error"
	PolicyDeny         Type = "policy_deny"
	PolicyError        Type = "policy_error"
	ExecutionError     Type = "execution_error"
	ProviderError      Type = "provider_error"
	ReloadError        Type = "reload_error"
	Internal           Type = "internal"
)

// Error is the typed error carried across every pipeline boundary. Callers
// at the boundary (transport, OAuth handlers, the executor) coerce any
// underlying error into one of these before it crosses back out, per
// spec.md §7's propagation policy: "components never raise across the
// pipeline boundary".
type Error struct {
	Type    Type
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given type.
func New(t Type, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

func Newf(t Type, cause error, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether target is an *Error with the same Type, so
// errors.Is(err, &mxerr.Error{Type: mxerr.InvalidGrant}) matches by Type
// instead of identity. A bare Type is not an error and cannot be a target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// TypeOf extracts the Type of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func TypeOf(err error) (Type, bool) {
	var e *Error
	if As(err, &e) {
		return e.Type, true
	}
	return "", false
}

// As walks the Unwrap chain looking for an *Error, avoiding an extra import
// of "errors" at call sites that already import mxerr.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
