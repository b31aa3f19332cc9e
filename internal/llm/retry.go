package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0.
var ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

// RetryWithBackoff retries operation with exponential backoff while retryable(err) is true.
// maxAttempts is the total number of attempts (must be > 0); the delay starts at
// baseDelay and doubles after each failed attempt. It returns the number of
// attempts made and the error of the last attempt. Context cancellation stops
// retrying and returns the context error.
func RetryWithBackoff(ctx context.Context, operation func(ctx context.Context) error, retryable func(error) bool, maxAttempts int, baseDelay time.Duration) (int, error) {
	if maxAttempts <= 0 {
		return 0, ErrInvalidMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if !retryable(lastErr) {
			return attempt, lastErr
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			return attempt, lastErr
		}

		delay := baseDelay << (attempt - 1)
		slog.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", maxAttempts, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return maxAttempts, lastErr
}
