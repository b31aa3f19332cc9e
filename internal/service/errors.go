package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTimeout is returned when an operation ran past its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError represents a validation error with a field name.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ErrorKind classifies a failed search.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindEmbedding  ErrorKind = "embedding"
	KindDimension  ErrorKind = "dimension"
	KindStorage    ErrorKind = "storage"
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
	KindInternal   ErrorKind = "internal"
)

// SearchError is returned by a failed recommendation and carries its search id.
type SearchError struct {
	SearchID string
	Kind     ErrorKind
	Err      error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s failed (%s): %v", e.SearchID, e.Kind, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// Is makes a timeout-kind SearchError match ErrTimeout.
func (e *SearchError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == KindTimeout
}

// PersistenceError is returned when a case could not be written.
type PersistenceError struct {
	CaseID string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error on case %s during %s: %v", e.CaseID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a SearchError in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
