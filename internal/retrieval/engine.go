package retrieval

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks casematch/internal/retrieval Engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"casematch/internal/contextutil"
	"casematch/internal/llm"
	"casematch/internal/service"
	"casematch/internal/storage"
	"casematch/internal/textnorm"
	"casematch/internal/vectorstore"
)

// Engine recommends catalog items for free-text queries.
type Engine interface {
	// Recommend ranks the catalog items of the cases most similar to query.
	// Failures are returned as *service.SearchError carrying the search id.
	Recommend(ctx context.Context, query string, topK int) (*Result, error)
}

// SearchLogger records one entry per search.
type SearchLogger interface {
	LogSearch(ctx context.Context, rec storage.SearchLogRecord) error
}

// Config tunes the engine.
type Config struct {
	CandidateCount int           // Nearest neighbors fetched before aggregation
	DefaultTopK    int           // Used when the caller asks for topK <= 0
	MaxTopK        int           // Upper bound on topK
	Timeout        time.Duration // Deadline for one Recommend call; 0 disables
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		CandidateCount: 100,
		DefaultTopK:    5,
		MaxTopK:        20,
		Timeout:        10 * time.Second,
	}
}

type engine struct {
	embedder llm.Embedder
	store    vectorstore.VectorStore
	log      SearchLogger
	cfg      Config
	newID    func() string
	now      func() time.Time
}

// NewEngine creates a new retrieval engine. Zero config fields take their defaults.
func NewEngine(embedder llm.Embedder, store vectorstore.VectorStore, log SearchLogger, cfg Config) Engine {
	def := DefaultConfig()
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = def.CandidateCount
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.DefaultTopK > cfg.MaxTopK {
		cfg.DefaultTopK = cfg.MaxTopK
	}
	return &engine{
		embedder: embedder,
		store:    store,
		log:      log,
		cfg:      cfg,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// clampTopK bounds topK to [1, MaxTopK], substituting the default for non-positive values.
func (e *engine) clampTopK(topK int) int {
	if topK <= 0 {
		return e.cfg.DefaultTopK
	}
	if topK > e.cfg.MaxTopK {
		return e.cfg.MaxTopK
	}
	return topK
}

// Recommend embeds the query, oversamples nearest neighbors and ranks their catalog items.
func (e *engine) Recommend(ctx context.Context, query string, topK int) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx)
	start := e.now()
	searchID := e.newID()
	topK = e.clampTopK(topK)

	logger = logger.With("search_id", searchID)
	logger.InfoContext(ctx, "recommendation started", "top_k", topK, "query_chars", len(query))

	result, err := e.recommend(ctx, searchID, query, topK)

	rec := storage.SearchLogRecord{
		SearchID:  searchID,
		QueryText: query,
		TopK:      topK,
		Latency:   e.now().Sub(start),
		CreatedAt: start,
	}
	if err != nil {
		rec.ErrorText = err.Error()
		logger.WarnContext(ctx, "recommendation failed", "kind", service.KindOf(err), "error", err)
	} else {
		rec.ResultCount = len(result.Recommendations)
		logger.InfoContext(ctx, "recommendation completed",
			"results", rec.ResultCount,
			"latency_ms", rec.Latency.Milliseconds(),
		)
	}
	if e.log != nil {
		if lerr := e.log.LogSearch(context.WithoutCancel(ctx), rec); lerr != nil {
			logger.ErrorContext(ctx, "failed to write search log", "error", lerr)
		}
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *engine) recommend(ctx context.Context, searchID, query string, topK int) (*Result, error) {
	fail := func(kind service.ErrorKind, err error) error {
		return &service.SearchError{SearchID: searchID, Kind: kind, Err: err}
	}

	if strings.TrimSpace(query) == "" {
		return nil, fail(service.KindValidation, &service.ValidationError{Field: "query", Message: "must not be empty"})
	}
	text := textnorm.Normalize(query)
	if text == "" {
		return nil, fail(service.KindValidation, &service.ValidationError{Field: "query", Message: "contains no searchable text"})
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if kind, ok := contextKind(ctx); ok {
			return nil, fail(kind, errors.Join(ctx.Err(), err))
		}
		return nil, fail(service.KindEmbedding, fmt.Errorf("failed to embed query: %w", err))
	}

	hits, err := e.store.Search(ctx, vec, e.cfg.CandidateCount)
	if err != nil {
		if kind, ok := contextKind(ctx); ok {
			return nil, fail(kind, errors.Join(ctx.Err(), err))
		}
		if errors.Is(err, storage.ErrDimensionMismatch) {
			return nil, fail(service.KindDimension, err)
		}
		return nil, fail(service.KindStorage, fmt.Errorf("failed to search vectors: %w", err))
	}
	// A search that finished after the deadline still yields no partial result.
	if kind, ok := contextKind(ctx); ok {
		return nil, fail(kind, ctx.Err())
	}

	return &Result{
		SearchID:        searchID,
		Query:           query,
		Timestamp:       e.now().UTC(),
		Recommendations: rank(hits, topK),
	}, nil
}

// contextKind reports whether the call's deadline passed or its context was canceled.
func contextKind(ctx context.Context) (service.ErrorKind, bool) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return service.KindTimeout, true
	case ctx.Err() != nil:
		return service.KindCanceled, true
	}
	return "", false
}
