package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"
)

// Outcome values recorded for an embedding call.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeFatal     = "fatal"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
)

// EmbeddingCall describes one Embed invocation after retries.
type EmbeddingCall struct {
	Model      string
	InputChars int
	Attempts   int
	Latency    time.Duration
	Outcome    string
	StatusCode int
	Err        error
}

// CallObserver receives every embedding call. Implementations must not block for long.
type CallObserver interface {
	ObserveEmbeddingCall(ctx context.Context, call EmbeddingCall)
}

// NopObserver discards calls.
type NopObserver struct{}

func (NopObserver) ObserveEmbeddingCall(context.Context, EmbeddingCall) {}

// LogObserver writes each call to a slog logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) ObserveEmbeddingCall(ctx context.Context, call EmbeddingCall) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"model", call.Model,
		"input_chars", call.InputChars,
		"attempts", call.Attempts,
		"latency_ms", call.Latency.Milliseconds(),
		"outcome", call.Outcome,
	}
	if call.Err != nil {
		logger.WarnContext(ctx, "embedding call failed", append(attrs, "status", call.StatusCode, "error", call.Err)...)
		return
	}
	logger.DebugContext(ctx, "embedding call", attrs...)
}

// MultiObserver fans a call out to several observers in order.
type MultiObserver []CallObserver

func (m MultiObserver) ObserveEmbeddingCall(ctx context.Context, call EmbeddingCall) {
	for _, o := range m {
		o.ObserveEmbeddingCall(ctx, call)
	}
}

func newEmbeddingCall(model, text string, attempts int, latency time.Duration, err error) EmbeddingCall {
	call := EmbeddingCall{
		Model:      model,
		InputChars: utf8.RuneCountInString(text),
		Attempts:   attempts,
		Latency:    latency,
		Outcome:    OutcomeOK,
		Err:        err,
	}
	if err == nil {
		return call
	}
	var embErr *EmbeddingError
	switch {
	case errors.As(err, &embErr):
		call.StatusCode = embErr.StatusCode
		switch embErr.Kind {
		case KindTransient:
			call.Outcome = OutcomeTransient
		case KindExhausted:
			call.Outcome = OutcomeExhausted
		default:
			call.Outcome = OutcomeFatal
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		call.Outcome = OutcomeCanceled
	default:
		call.Outcome = OutcomeFatal
	}
	return call
}
