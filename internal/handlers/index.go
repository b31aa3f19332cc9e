package handlers

import (
	"context"
	"errors"
	"net/http"

	"casematch/internal/contextutil"
	"casematch/internal/vectorstore"
)

// IndexBuilder builds and reports on the approximate nearest-neighbor index.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, metric vectorstore.Metric, targetAccuracy float64) (vectorstore.IndexStatus, error)
	Status(ctx context.Context) (vectorstore.IndexStatus, error)
}

// IndexHandler handles HTTP requests for index builds.
type IndexHandler struct {
	builder         IndexBuilder
	defaultAccuracy float64
}

// NewIndexHandler creates a new IndexHandler.
func NewIndexHandler(builder IndexBuilder, defaultAccuracy float64) *IndexHandler {
	return &IndexHandler{
		builder:         builder,
		defaultAccuracy: defaultAccuracy,
	}
}

// BuildRequest represents the request payload for an index build.
//
// swagger:model BuildRequest
type BuildRequest struct {
	// Distance metric; only "cosine" is supported
	Metric string `json:"metric,omitempty"`
	// Target recall percentage in (0, 100]
	TargetAccuracy float64 `json:"target_accuracy,omitempty"`
}

// Build rebuilds the index from every stored vector.
//
// The build runs to completion even if the client disconnects.
//
// swagger:route POST /api/v1/index/build buildIndex
//
// # Rebuild the vector index
//
// responses:
//
//	'200':
//	  description: Index status after the build
//	'400':
//	  description: Unsupported metric or accuracy
func (h *IndexHandler) Build(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req BuildRequest
	if err := decodeOptional(r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	metric := vectorstore.MetricCosine
	if req.Metric != "" {
		metric = vectorstore.Metric(req.Metric)
	}
	accuracy := h.defaultAccuracy
	if req.TargetAccuracy != 0 {
		accuracy = req.TargetAccuracy
	}

	logger.InfoContext(ctx, "index build requested", "metric", metric, "target_accuracy", accuracy)
	status, err := h.builder.BuildIndex(context.WithoutCancel(ctx), metric, accuracy)
	if err != nil {
		if errors.Is(err, vectorstore.ErrUnsupportedMetric) || errors.Is(err, vectorstore.ErrInvalidAccuracy) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.ErrorContext(ctx, "index build failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Index build failed")
		return
	}
	if err := writeJSON(w, http.StatusOK, status); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Status reports the current index state.
//
// swagger:route GET /api/v1/index/status indexStatus
//
// # Vector index status
//
// responses:
//
//	'200':
//	  description: Index status
func (h *IndexHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	status, err := h.builder.Status(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "index status failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Vector index unavailable")
		return
	}
	if err := writeJSON(w, http.StatusOK, status); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
