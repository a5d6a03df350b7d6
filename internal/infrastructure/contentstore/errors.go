package contentstore

import (
	"errors"
	"fmt"
	"net/http"
)

const maxErrorBody = 500

var (
	// ErrNotFound matches any *Error carrying a 404
	ErrNotFound = errors.New("content store: node not found")
	// ErrConflict matches any *Error carrying a 409
	ErrConflict = errors.New("content store: name already exists")
)

// Error is a failed content store call. StatusCode is 0 for transport errors.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func newStatusError(op string, status int, body []byte) *Error {
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	return &Error{Op: op, StatusCode: status, Body: snippet}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("content store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("content store %s failed: status=%d, body=%s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
