// Package errdefs defines the stable error taxonomy the API surfaces to
// callers. Every failure that crosses a component boundary is wrapped in one
// of these kinds; raw driver or transport error text never reaches a client
// unmapped.
package errdefs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidRequest   Kind = "invalid_request"
	KindAlreadyConnected Kind = "already_connected"
	KindNotConnected     Kind = "not_connected"
	KindNotFound         Kind = "not_found"
	KindConnectFailed    Kind = "connect_failed"
	KindDeviceError      Kind = "device_error"
	KindTimeout          Kind = "timeout"
	KindTransportError   Kind = "transport_error"
)

// Error carries a taxonomy kind, a human-readable message and an optional
// wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) works for
// sentinel comparisons in tests.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return newf(KindInvalidRequest, format, args...)
}

func AlreadyConnected(format string, args ...any) *Error {
	return newf(KindAlreadyConnected, format, args...)
}

func NotConnected() *Error {
	return newf(KindNotConnected, "not connected")
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

func ConnectFailed(msg string, cause error) *Error {
	return &Error{Kind: KindConnectFailed, Message: msg, Err: cause}
}

func DeviceError(code int) *Error {
	return newf(KindDeviceError, "device returned error code %d", code)
}

func Timeout(format string, args ...any) *Error {
	return newf(KindTimeout, format, args...)
}

func TransportError(msg string, cause error) *Error {
	return &Error{Kind: KindTransportError, Message: msg, Err: cause}
}

// KindOf extracts the taxonomy kind from err, unwrapping as needed. Errors
// that were never classified map to KindTransportError, the catch-all for
// lower-layer I/O failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransportError
}

// MessageOf returns the caller-facing message for err. Unclassified errors
// get a generic message so internal text does not leak.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}
