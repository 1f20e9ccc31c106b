package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind represents the category of an error
type Kind string

const (
	// KindMissingParameter is a required query or body field that is absent
	KindMissingParameter Kind = "missing_parameter"
	// KindNotFound is a lookup that matched no record
	KindNotFound Kind = "not_found"
	// KindValidation is a value that failed to parse or validate
	KindValidation Kind = "validation_failure"
	// KindSerialization is a record that could not be encoded or decoded
	KindSerialization Kind = "serialization_failure"
	// KindCommit is a mutation the store rejected or could not complete
	KindCommit Kind = "commit_failure"
	// KindStore is a read or administrative store call that failed
	KindStore Kind = "store_failure"
)

// Error is the error type threaded through every layer above the store
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new error of the given kind
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// MissingParameter reports an absent required parameter
func MissingParameter(name string) *Error {
	return New(KindMissingParameter, fmt.Sprintf("%s cannot be empty", name), nil)
}

// NotFound reports a lookup with no match
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...), nil)
}

// Validation reports a value that failed to parse or validate
func Validation(message string, err error) *Error {
	return New(KindValidation, message, err)
}

// Serialization reports an encode or decode failure
func Serialization(message string, err error) *Error {
	return New(KindSerialization, message, err)
}

// Commit reports a failed mutation
func Commit(message string, err error) *Error {
	return New(KindCommit, message, err)
}

// Store reports a failed read or administrative call
func Store(message string, err error) *Error {
	return New(KindStore, message, err)
}

// KindOf returns the kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is an *Error of the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the caller-facing message of err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindValidation && e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps err to the status code the HTTP surface responds with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMissingParameter, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
