package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced on run handles. Tool-side kinds
// (ToolNotFound, ValidationError, ExecutionError) are soft: they become
// diagnostic tool-result messages instead of failing the run.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "InvalidInput"
	KindStorageError    ErrorKind = "StorageError"
	KindProviderError   ErrorKind = "ProviderError"
	KindToolNotFound    ErrorKind = "ToolNotFound"
	KindValidationError ErrorKind = "ValidationError"
	KindExecutionError  ErrorKind = "ExecutionError"
	KindCancelled       ErrorKind = "Cancelled"
	KindExpired         ErrorKind = "Expired"
	KindOverwritten     ErrorKind = "Overwritten"
)

// RunError is a failure with an ErrorKind and optional metadata, as
// delivered on a run handle's completion.
type RunError struct {
	Kind     ErrorKind      `json:"kind"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	cause    error
}

// NewRunError builds a RunError of the given kind.
func NewRunError(kind ErrorKind, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapRunError builds a RunError of the given kind around a cause.
func WrapRunError(kind ErrorKind, cause error, format string, args ...any) *RunError {
	return &RunError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// WithMeta attaches one metadata entry and returns the error.
func (e *RunError) WithMeta(key string, value any) *RunError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func (e *RunError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.cause
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
