package types

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable identifier clients can switch on. Kinds cross
// component boundaries as values, not as exception chains.
type ErrorKind string

const (
	KindInvalidType               ErrorKind = "InvalidType"
	KindMissingField              ErrorKind = "MissingField"
	KindPortExhausted             ErrorKind = "PortExhausted"
	KindServiceUnreachable        ErrorKind = "ServiceUnreachable"
	KindRegistrationFailed        ErrorKind = "RegistrationFailed"
	KindNotFound                  ErrorKind = "NotFound"
	KindImmutable                 ErrorKind = "Immutable"
	KindDeintegrationBlocked      ErrorKind = "DeintegrationBlocked"
	KindCleanupVerificationFailed ErrorKind = "CleanupVerificationFailed"
	KindRecordNotFound            ErrorKind = "RecordNotFound"
	KindStateCorrupt              ErrorKind = "StateCorrupt"
	KindTypeUnavailable           ErrorKind = "TypeUnavailable"
	KindRequestTimeout            ErrorKind = "RequestTimeout"
	KindDeliveryFailed            ErrorKind = "DeliveryFailed"
)

// Error carries a stable kind alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors that carry the same kind, so sentinel-style checks
// via errors.Is work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// NewError builds an Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error wrapping a cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the stable kind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
