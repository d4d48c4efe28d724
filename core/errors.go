package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer. Client kinds map to
// 4xx status codes, KindInternal to 500.
type Kind int

// the error kinds known to the engine
const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindForbidden
)

// Error is an engine error with a client-visible message
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// NotFoundf creates a NotFound error
func NotFoundf(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf creates a BadRequest error
func BadRequestf(format string, args ...interface{}) error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Forbiddenf creates a Forbidden error
func Forbiddenf(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// Internalf creates an internal error wrapping a cause. The cause is for
// server-side logs only, the message is what clients get to see.
func Internalf(err error, format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of an error. Errors outside this taxonomy are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
