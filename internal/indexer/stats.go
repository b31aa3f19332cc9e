package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// VectorCounter reports how many vectors are stored and the dimension pinned
// for a model.
type VectorCounter interface {
	Count(ctx context.Context) (int, error)
	Dimension(ctx context.Context, model string) (int, error)
}

// WithVectorCounter lets Stats report the stored vector count and pinned dimension.
func WithVectorCounter(c VectorCounter) Option {
	return func(p *Pipeline) {
		p.vectors = c
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// BacklogStats describes the staging backlog and the embedding output.
type BacklogStats struct {
	// Pending is the number of records waiting to be embedded, including in-flight ones.
	Pending int `json:"pending"`
	// InFlight is the number of pending records currently held by a worker.
	InFlight int `json:"in_flight"`
	// Done is the number of records embedded successfully.
	Done int `json:"done"`
	// Error is the number of records that failed and await a reset.
	Error int `json:"error"`
	// Vectors is the number of stored vectors (-1 when unknown).
	Vectors int `json:"vectors"`
	// LastProcessedAt is when a record last reached done or error.
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
	// EmbeddingModel is the model new vectors are produced with.
	EmbeddingModel string `json:"embedding_model"`
	// IndexVersion identifies the embedding configuration (model + dimension).
	IndexVersion string `json:"index_version"`
	// PinnedDimension is the dimension stored vectors of EmbeddingModel have,
	// 0 before the first vector is written or when unknown.
	PinnedDimension int `json:"pinned_dimension"`
}

// Stats computes backlog statistics from the database.
func (p *Pipeline) Stats(ctx context.Context, dimension int) (*BacklogStats, error) {
	counts, err := p.narratives.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count narratives: %w", err)
	}

	stats := &BacklogStats{
		Pending:         counts.Pending,
		InFlight:        counts.InFlight,
		Done:            counts.Done,
		Error:           counts.Error,
		Vectors:         -1,
		LastProcessedAt: counts.LastProcessedAt,
		EmbeddingModel:  p.cfg.Model,
		IndexVersion:    IndexVersion(p.cfg.Model, dimension),
	}

	if p.vectors != nil {
		n, err := p.vectors.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count vectors: %w", err)
		}
		stats.Vectors = n

		dim, err := p.vectors.Dimension(ctx, p.cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to read pinned dimension: %w", err)
		}
		stats.PinnedDimension = dim
	}

	return stats, nil
}

// IndexVersion is a short hash identifying vectors produced by model at dimension.
// Vectors with different versions are not comparable.
func IndexVersion(model string, dimension int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|dimension=%d", model, dimension)))
	return hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits
}
