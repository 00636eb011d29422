package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind categorises persistence failures for the service layer.
type ErrorKind string

const (
	ErrorKindUnknown      ErrorKind = "unknown"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindConflict     ErrorKind = "conflict"
	ErrorKindUnavailable  ErrorKind = "unavailable"
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	// ErrorKindExhausted indicates a counter reached its configured maximum.
	ErrorKindExhausted ErrorKind = "exhausted"
)

// Error is the concrete RepositoryError returned by store implementations.
type Error struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

var _ RepositoryError = (*Error)(nil)

// NewError constructs a categorised repository error.
func NewError(op string, kind ErrorKind, message string, err error) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == ErrorKindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == ErrorKindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// KindOf extracts the kind of a wrapped repository error.
func KindOf(err error) ErrorKind {
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr.Kind
	}
	return ErrorKindUnknown
}

// IsNotFound reports whether err wraps a repository not-found error.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err wraps a repository conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err wraps a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
