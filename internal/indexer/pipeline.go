package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"casematch/internal/contextutil"
	"casematch/internal/llm"
	"casematch/internal/service"
	"casematch/internal/storage"
	"casematch/internal/textnorm"
	"casematch/internal/vectorstore"
)

// Config tunes a Pipeline.
type Config struct {
	Model     string        // Embedding model name recorded with each vector
	CallDelay time.Duration // Minimum interval between provider calls across all workers; 0 disables
	Lease     time.Duration // Claim lease; abandoned records become reclaimable after it
	Timeout   time.Duration // Deadline applied to each ProcessBatch call; 0 disables
}

// Pipeline embeds staged narratives into the vector store.
type Pipeline struct {
	narratives storage.NarrativeStore
	embedder   llm.Embedder
	store      vectorstore.VectorStore
	vectors    VectorCounter
	limiter    *rate.Limiter
	cfg        Config
	newToken   func() string
}

// NewPipeline creates a new batch pipeline.
func NewPipeline(
	narratives storage.NarrativeStore,
	embedder llm.Embedder,
	store vectorstore.VectorStore,
	cfg Config,
	opts ...Option,
) *Pipeline {
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	limit := rate.Inf
	if cfg.CallDelay > 0 {
		limit = rate.Every(cfg.CallDelay)
	}
	p := &Pipeline{
		narratives: narratives,
		embedder:   embedder,
		store:      store,
		limiter:    rate.NewLimiter(limit, 1),
		cfg:        cfg,
		newToken:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BatchResult counts what one batch did with its claimed records.
type BatchResult struct {
	Claimed   int `json:"claimed"`
	Processed int `json:"processed"`
	Errored   int `json:"errored"`
	Released  int `json:"released"`
	Remaining int `json:"remaining"` // Pending records left after the batch
}

func (r *BatchResult) add(o BatchResult) {
	r.Claimed += o.Claimed
	r.Processed += o.Processed
	r.Errored += o.Errored
	r.Released += o.Released
}

type recordOutcome int

const (
	outcomeDone recordOutcome = iota
	outcomeErrored
	outcomeInterrupted
	outcomeSkipped // claim lost or state write failed; the lease will expire
)

// ProcessBatch claims up to batchSize pending narratives and embeds each one.
//
// Records commit independently: a failing record is marked error and the batch
// continues. When ctx is canceled or the batch deadline passes, unprocessed
// claimed records are released to pending and an error matching
// service.ErrTimeout is returned along with the partial counts.
func (p *Pipeline) ProcessBatch(ctx context.Context, batchSize int) (BatchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	var res BatchResult

	if batchSize <= 0 {
		return res, &service.ValidationError{Field: "batch_size", Message: "must be greater than 0"}
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	token := p.newToken()
	claimed, err := p.narratives.Claim(ctx, token, batchSize, p.cfg.Lease)
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("claim interrupted: %w", errors.Join(service.ErrTimeout, ctx.Err()))
		}
		return res, fmt.Errorf("failed to claim narratives: %w", err)
	}
	res.Claimed = len(claimed)
	logger.DebugContext(ctx, "batch claimed", "claimed", len(claimed), "token", token)

	var interrupted error
	for i, n := range claimed {
		if ctx.Err() == nil {
			switch p.processOne(ctx, token, n) {
			case outcomeDone:
				res.Processed++
				continue
			case outcomeErrored:
				res.Errored++
				continue
			case outcomeSkipped:
				continue
			}
		}

		// Interrupted: hand back this record and every one after it.
		interrupted = ctx.Err()
		if interrupted == nil {
			interrupted = context.Canceled
		}
		rest := make([]string, 0, len(claimed)-i)
		for _, r := range claimed[i:] {
			rest = append(rest, r.CaseID)
		}
		released, err := p.narratives.Release(context.WithoutCancel(ctx), token, rest)
		if err != nil {
			logger.ErrorContext(ctx, "failed to release claimed narratives", "count", len(rest), "error", err)
		}
		res.Released = released
		break
	}

	counts, err := p.narratives.Counts(context.WithoutCancel(ctx))
	if err != nil {
		logger.WarnContext(ctx, "failed to count remaining narratives", "error", err)
	} else {
		res.Remaining = counts.Pending
	}

	logger.InfoContext(ctx, "batch finished",
		"claimed", res.Claimed,
		"processed", res.Processed,
		"errored", res.Errored,
		"released", res.Released,
		"remaining", res.Remaining,
	)

	if interrupted != nil {
		return res, fmt.Errorf("batch interrupted: %w", errors.Join(service.ErrTimeout, interrupted))
	}
	return res, nil
}

// processOne runs normalize, throttle, embed, upsert and the terminal state write for one record.
func (p *Pipeline) processOne(ctx context.Context, token string, n *storage.StagingNarrative) recordOutcome {
	logger := contextutil.LoggerFromContext(ctx).With("case_id", n.CaseID)

	text := textnorm.Normalize(n.NarrativeText)
	if text == "" {
		return p.markError(ctx, token, n.CaseID, "narrative is empty after normalization")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return outcomeInterrupted
	}

	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		logger.WarnContext(ctx, "embedding failed", "error", err)
		return p.markError(ctx, token, n.CaseID, err.Error())
	}

	err = p.store.Upsert(ctx, vectorstore.Entry{
		CaseID:        n.CaseID,
		CatalogItemID: n.CatalogItemID,
		CatalogPath:   n.CatalogPath,
		NarrativeText: text,
		Vector:        vec,
		Model:         p.cfg.Model,
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		perr := &service.PersistenceError{CaseID: n.CaseID, Op: "upsert vector", Err: err}
		logger.WarnContext(ctx, "vector upsert failed", "error", perr)
		return p.markError(ctx, token, n.CaseID, perr.Error())
	}

	if err := p.narratives.MarkDone(ctx, n.CaseID, token); err != nil {
		if errors.Is(err, storage.ErrClaimLost) {
			logger.WarnContext(ctx, "claim lost before completion", "error", err)
			return outcomeSkipped
		}
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		logger.ErrorContext(ctx, "failed to mark narrative done", "error", err)
		return outcomeSkipped
	}
	return outcomeDone
}

func (p *Pipeline) markError(ctx context.Context, token, caseID, reason string) recordOutcome {
	logger := contextutil.LoggerFromContext(ctx)
	if err := p.narratives.MarkError(ctx, caseID, token, reason); err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		logger.ErrorContext(ctx, "failed to mark narrative error", "case_id", caseID, "error", err)
		return outcomeSkipped
	}
	return outcomeErrored
}

// DrainResult aggregates the batches run by Drain.
type DrainResult struct {
	BatchResult
	Batches int `json:"batches"`
}

// Drain runs workers concurrent batch loops on a worker pool until no record
// can be claimed, ctx ends, or a batch fails. Claims never overlap, so workers
// share the backlog without coordination.
func (p *Pipeline) Drain(ctx context.Context, workers, batchSize int) (DrainResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	var total DrainResult

	if workers <= 0 {
		return total, &service.ValidationError{Field: "workers", Message: "must be greater than 0"}
	}
	if batchSize <= 0 {
		return total, &service.ValidationError{Field: "batch_size", Message: "must be greater than 0"}
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return total, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			for ctx.Err() == nil {
				res, err := p.ProcessBatch(ctx, batchSize)

				mu.Lock()
				total.add(res)
				if res.Claimed > 0 {
					total.Batches++
				}
				if err != nil {
					errs = append(errs, err)
				}
				mu.Unlock()

				if err != nil || res.Claimed == 0 {
					return
				}
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("failed to submit drain worker: %w", err))
			mu.Unlock()
		}
	}
	wg.Wait()

	counts, err := p.narratives.Counts(context.WithoutCancel(ctx))
	if err == nil {
		total.Remaining = counts.Pending
	}

	logger.InfoContext(ctx, "drain finished",
		"batches", total.Batches,
		"processed", total.Processed,
		"errored", total.Errored,
		"remaining", total.Remaining,
	)
	if len(errs) == 0 && ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("drain interrupted: %w", errors.Join(service.ErrTimeout, ctx.Err())))
	}
	return total, errors.Join(errs...)
}

// ResetErrors moves the given error records back to pending; an empty list resets all of them.
func (p *Pipeline) ResetErrors(ctx context.Context, caseIDs []string) (int, error) {
	logger := contextutil.LoggerFromContext(ctx)

	n, err := p.narratives.ResetErrors(ctx, caseIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to reset errors: %w", err)
	}
	logger.InfoContext(ctx, "error narratives reset", "requested", len(caseIDs), "reset", n)
	return n, nil
}
