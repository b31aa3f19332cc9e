package indexer

import (
	"context"
	"errors"
	"time"

	"casematch/internal/contextutil"
	"casematch/internal/service"
)

// Run drains the backlog once immediately and then every interval until ctx
// ends. Drain failures are logged and do not stop the loop.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration, workers, batchSize int) error {
	logger := contextutil.LoggerFromContext(ctx)
	if interval <= 0 {
		return &service.ValidationError{Field: "interval", Message: "must be greater than 0"}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "batch scheduler started", "interval", interval, "workers", workers, "batch_size", batchSize)
	for {
		res, err := p.Drain(ctx, workers, batchSize)
		if err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "scheduled drain failed", "processed", res.Processed, "error", err)
			if errors.Is(err, service.ErrInvalidInput) {
				return err
			}
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "batch scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
