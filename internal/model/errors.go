package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for propagation and wire codes.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindHandshake
	KindValidation
	KindAuthorization
	KindNotFound
	KindTransaction
	KindTransport
)

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrHandshake   = &Error{Kind: KindHandshake, Message: "authentication failed"}
	ErrValidation  = &Error{Kind: KindValidation, Message: "invalid payload"}
	ErrForbidden   = &Error{Kind: KindAuthorization, Message: "not permitted"}
	ErrNotFound    = &Error{Kind: KindNotFound, Message: "not found"}
	ErrTransaction = &Error{Kind: KindTransaction, Message: "storage transaction failed"}
	ErrTransport   = &Error{Kind: KindTransport, Message: "transport failure"}
	ErrInternal    = &Error{Kind: KindInternal, Message: "internal error"}
)

// Error is a domain error with a kind and a client-safe message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the stable wire code.
func (e *Error) Code() string {
	switch e.Kind {
	case KindHandshake:
		return "HANDSHAKE_FAILED"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuthorization:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTransaction:
		return "TRANSACTION_FAILED"
	case KindTransport:
		return "TRANSPORT_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validationf reports a malformed payload.
func Validationf(format string, args ...interface{}) *Error {
	return newError(KindValidation, nil, format, args...)
}

// Forbiddenf reports an authenticated but unauthorized action.
func Forbiddenf(format string, args ...interface{}) *Error {
	return newError(KindAuthorization, nil, format, args...)
}

// NotFoundf reports a missing entity.
func NotFoundf(format string, args ...interface{}) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// Transaction wraps a storage failure.
func Transaction(err error, message string) *Error {
	return newError(KindTransaction, err, "%s", message)
}

// Handshake wraps an authentication failure.
func Handshake(err error) *Error {
	return newError(KindHandshake, err, "authentication failed")
}

// AsError returns err as *Error, treating unknown errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}
