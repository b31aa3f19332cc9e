package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed embedding call.
type ErrorKind int

const (
	// KindTransient is a failure that may succeed on retry (unavailable, gateway timeout, request timeout).
	KindTransient ErrorKind = iota + 1
	// KindFatal is a failure that will not succeed on retry (auth, malformed request, permanent quota).
	KindFatal
	// KindExhausted means every allowed attempt failed transiently.
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

var (
	// ErrEmbeddingTransient matches any *EmbeddingError of KindTransient.
	ErrEmbeddingTransient = errors.New("embedding provider transient failure")
	// ErrEmbeddingFatal matches any *EmbeddingError of KindFatal.
	ErrEmbeddingFatal = errors.New("embedding provider fatal failure")
	// ErrEmbeddingExhausted matches any *EmbeddingError of KindExhausted.
	ErrEmbeddingExhausted = errors.New("embedding retries exhausted")
)

// EmbeddingError is the terminal error returned by EmbeddingsClient.Embed.
type EmbeddingError struct {
	Kind       ErrorKind
	StatusCode int // HTTP status, 0 for transport or decode failures
	Attempts   int
	Err        error
}

func (e *EmbeddingError) Error() string {
	msg := fmt.Sprintf("embedding %s error", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on the kind sentinels.
func (e *EmbeddingError) Is(target error) bool {
	switch target {
	case ErrEmbeddingTransient:
		return e.Kind == KindTransient
	case ErrEmbeddingFatal:
		return e.Kind == KindFatal
	case ErrEmbeddingExhausted:
		return e.Kind == KindExhausted
	}
	return false
}

func transientError(status int, err error) *EmbeddingError {
	return &EmbeddingError{Kind: KindTransient, StatusCode: status, Err: err}
}

func fatalError(status int, err error) *EmbeddingError {
	return &EmbeddingError{Kind: KindFatal, StatusCode: status, Err: err}
}

// IsRetryable reports whether err is a transient embedding failure.
func IsRetryable(err error) bool {
	var embErr *EmbeddingError
	return errors.As(err, &embErr) && embErr.Kind == KindTransient
}
