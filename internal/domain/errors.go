package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable class of a business failure.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindInvalidState ErrorKind = "invalid_state"
	KindForbidden    ErrorKind = "forbidden"
	KindOutOfOrder   ErrorKind = "out_of_order"
	KindConflict     ErrorKind = "conflict"
	KindNotFound     ErrorKind = "not_found"
	KindUnauthorized ErrorKind = "unauthorized"
)

// Error is a typed business failure carrying a human-readable message.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return e.Msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation   = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Msg: "operation not allowed in current state"}
	ErrForbidden    = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrOutOfOrder   = &Error{Kind: KindOutOfOrder, Msg: "milestone out of order"}
	ErrConflict     = &Error{Kind: KindConflict, Msg: "concurrent modification"}
	ErrNotFound     = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
)

func newf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error   { return newf(KindValidation, format, args...) }
func InvalidStatef(format string, args ...any) error { return newf(KindInvalidState, format, args...) }
func Forbiddenf(format string, args ...any) error    { return newf(KindForbidden, format, args...) }
func OutOfOrderf(format string, args ...any) error   { return newf(KindOutOfOrder, format, args...) }
func Conflictf(format string, args ...any) error     { return newf(KindConflict, format, args...) }
func NotFoundf(format string, args ...any) error     { return newf(KindNotFound, format, args...) }
func Unauthorizedf(format string, args ...any) error { return newf(KindUnauthorized, format, args...) }

// KindOf returns the kind of a typed error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable is true only for lost optimistic-concurrency races.
func Retryable(err error) bool {
	return KindOf(err) == KindConflict
}
