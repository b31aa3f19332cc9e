// Package app wires configuration into the running components shared by the
// API server and the ops CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"

	"casematch/internal/config"
	"casematch/internal/contextutil"
	"casematch/internal/http"
	"casematch/internal/indexer"
	"casematch/internal/llm"
	"casematch/internal/retrieval"
	"casematch/internal/service"
	"casematch/internal/storage"
	"casematch/internal/vectorstore"
)

// App holds the constructed components.
type App struct {
	Config *config.Config
	DB     *sql.DB

	Narratives *storage.NarrativeRepo
	Knowledge  *storage.KnowledgeRepo
	SearchLog  *storage.SearchLogRepo
	Calls      *storage.EmbeddingCallRepo

	Embedder *llm.EmbeddingsClient
	Store    *vectorstore.Store
	Pipeline *indexer.Pipeline
	Engine   retrieval.Engine
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// New opens the database, runs migrations and constructs every component.
// It makes no network calls; use Start to warm the index and probe the provider.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, service.WrapError(err, "failed to open database")
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		return nil, service.WrapError(err, "failed to run migrations")
	}

	a := &App{
		Config:     cfg,
		DB:         db,
		Narratives: storage.NewNarrativeRepo(db),
		Knowledge:  storage.NewKnowledgeRepo(db),
		SearchLog:  storage.NewSearchLogRepo(db),
		Calls:      storage.NewEmbeddingCallRepo(db),
	}

	a.Embedder = llm.NewEmbeddingsClient(
		cfg.EmbeddingBaseURL,
		cfg.EmbeddingAPIKey,
		cfg.EmbeddingModelName,
		cfg.VectorSize,
		llm.WithHTTPClient(&nethttp.Client{Timeout: cfg.EmbeddingTimeout}),
		llm.WithRetry(cfg.EmbeddingMaxRetries, cfg.EmbeddingRetryBaseDelay),
		llm.WithObserver(llm.MultiObserver{llm.LogObserver{Logger: logger}, a.Calls}),
	)

	index, err := newIndex(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.Store = vectorstore.NewStore(a.Knowledge, index, cfg.VectorSize)

	a.Pipeline = indexer.NewPipeline(
		a.Narratives,
		a.Embedder,
		a.Store,
		indexer.Config{
			Model:     cfg.EmbeddingModelName,
			CallDelay: cfg.BatchCallDelay,
			Lease:     cfg.ClaimLease,
			Timeout:   cfg.BatchTimeout,
		},
		indexer.WithVectorCounter(a.Knowledge),
	)

	a.Engine = retrieval.NewEngine(a.Embedder, a.Store, a.SearchLog, retrieval.Config{
		CandidateCount: cfg.RecommendCandidates,
		DefaultTopK:    cfg.RecommendDefaultTopK,
		MaxTopK:        cfg.RecommendMaxTopK,
		Timeout:        cfg.RecommendTimeout,
	})

	return a, nil
}

func newIndex(cfg *config.Config) (vectorstore.Index, error) {
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		index, err := vectorstore.NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection, cfg.VectorSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create Qdrant index: %w", err)
		}
		return index, nil
	default:
		return vectorstore.NewHNSWIndex(), nil
	}
}

// Start warms the vector index and, when probe is set, checks the embedding
// provider with a single call.
func (a *App) Start(ctx context.Context, probe bool) error {
	logger := contextutil.LoggerFromContext(ctx)

	st, err := a.Store.Warm(ctx, a.Config.IndexTargetAccuracy)
	if err != nil {
		return fmt.Errorf("failed to warm vector index: %w", err)
	}
	logger.InfoContext(ctx, "Vector index ready",
		"backend", a.Config.VectorBackend,
		"built", st.Built,
		"size", st.Size,
	)

	if !probe {
		return nil
	}
	if err := a.Embedder.Ping(ctx); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Embedding client validated", "model", a.Config.EmbeddingModelName, "vector_size", a.Config.VectorSize)
	return nil
}

// Router builds the HTTP handler over the app's components.
func (a *App) Router() nethttp.Handler {
	return http.NewRouter(&http.Deps{
		Engine:      a.Engine,
		Batch:       a.Pipeline,
		Index:       a.Store,
		DB:          a.DB,
		APIKeys:     a.Config.APIKeys,
		BatchSize:   a.Config.BatchSize,
		VectorSize:  a.Config.VectorSize,
		IndexTarget: a.Config.IndexTargetAccuracy,
	})
}

// Close releases the index and the database.
func (a *App) Close() error {
	return errors.Join(a.Store.Close(), a.DB.Close())
}
