package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"casematch/internal/handlers"
	"casematch/internal/retrieval"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Engine      retrieval.Engine
	Batch       handlers.BatchRunner
	Index       handlers.IndexBuilder
	DB          handlers.Pinger
	APIKeys     []string
	BatchSize   int
	VectorSize  int
	IndexTarget float64 // Default target accuracy for index builds
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Add CORS middleware
	r.Use(CORS)

	recommendHandler := handlers.NewRecommendHandler(deps.Engine)
	batchHandler := handlers.NewBatchHandler(deps.Batch, deps.BatchSize, deps.VectorSize)
	indexHandler := handlers.NewIndexHandler(deps.Index, deps.IndexTarget)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Index)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/v1", func(r chi.Router) {
			r.Use(APIKeyAuth(deps.APIKeys))

			r.Method(http.MethodPost, "/recommend", recommendHandler)
			r.Post("/batch/process", batchHandler.Process)
			r.Post("/batch/reset", batchHandler.Reset)
			r.Get("/batch/stats", batchHandler.Stats)
			r.Post("/index/build", indexHandler.Build)
			r.Get("/index/status", indexHandler.Status)
		})
	})

	return r
}
