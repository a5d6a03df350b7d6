package entity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a workflow failure for callers and the HTTP layer
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindIdentity     ErrorKind = "identity"
	KindSign         ErrorKind = "sign"
	KindContentStore ErrorKind = "content_store"
	KindConcurrency  ErrorKind = "concurrency"
	KindNotFound     ErrorKind = "not_found"
	KindForbidden    ErrorKind = "forbidden"
	KindInternal     ErrorKind = "internal"
)

// Error is a workflow failure carrying its kind and a user-facing message
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

func NewError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

func PreconditionError(format string, args ...interface{}) *Error {
	return NewError(KindPrecondition, nil, format, args...)
}

func ConcurrencyError(format string, args ...interface{}) *Error {
	return NewError(KindConcurrency, nil, format, args...)
}

func NotFoundError(format string, args ...interface{}) *Error {
	return NewError(KindNotFound, nil, format, args...)
}

func ForbiddenError(format string, args ...interface{}) *Error {
	return NewError(KindForbidden, nil, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
