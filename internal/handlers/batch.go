package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"casematch/internal/contextutil"
	"casematch/internal/indexer"
)

// BatchRunner is the batch processor surface exposed over HTTP.
type BatchRunner interface {
	ProcessBatch(ctx context.Context, batchSize int) (indexer.BatchResult, error)
	ResetErrors(ctx context.Context, caseIDs []string) (int, error)
	Stats(ctx context.Context, dimension int) (*indexer.BacklogStats, error)
}

// BatchHandler handles HTTP requests for the embedding batch processor.
type BatchHandler struct {
	runner           BatchRunner
	defaultBatchSize int
	vectorSize       int
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(runner BatchRunner, defaultBatchSize, vectorSize int) *BatchHandler {
	return &BatchHandler{
		runner:           runner,
		defaultBatchSize: defaultBatchSize,
		vectorSize:       vectorSize,
	}
}

// ProcessRequest represents the request payload for running one batch.
//
// swagger:model ProcessRequest
type ProcessRequest struct {
	// Maximum number of pending narratives to claim; defaults to the configured batch size
	BatchSize *int `json:"batch_size,omitempty"`
}

// ResetRequest represents the request payload for resetting error records.
//
// swagger:model ResetRequest
type ResetRequest struct {
	// Case ids to reset; empty resets every error record
	CaseIDs []string `json:"case_ids,omitempty"`
}

// ResetResponse reports how many records went back to pending.
//
// swagger:model ResetResponse
type ResetResponse struct {
	Reset int `json:"reset"`
}

// decodeOptional decodes a JSON body, treating an empty body as the zero value.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Process runs one batch.
//
// swagger:route POST /api/v1/batch/process processBatch
//
// # Embed one batch of pending narratives
//
// responses:
//
//	'200':
//	  description: Batch counts
//	'400':
//	  description: Invalid batch size
//	'504':
//	  description: Batch deadline passed; unprocessed records were released
func (h *BatchHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req ProcessRequest
	if err := decodeOptional(r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	size := h.defaultBatchSize
	if req.BatchSize != nil {
		size = *req.BatchSize
	}

	res, err := h.runner.ProcessBatch(ctx, size)
	if err != nil {
		status, msg := statusForError(err)
		logger.WarnContext(ctx, "batch processing failed", "status", status, "error", err)
		writeError(w, status, msg)
		return
	}
	if err := writeJSON(w, http.StatusOK, res); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Reset moves error records back to pending.
//
// swagger:route POST /api/v1/batch/reset resetErrors
//
// # Reset error records
//
// responses:
//
//	'200':
//	  description: Number of records reset
func (h *BatchHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req ResetRequest
	if err := decodeOptional(r, &req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	n, err := h.runner.ResetErrors(ctx, req.CaseIDs)
	if err != nil {
		status, msg := statusForError(err)
		logger.ErrorContext(ctx, "reset failed", "error", err)
		writeError(w, status, msg)
		return
	}
	if err := writeJSON(w, http.StatusOK, ResetResponse{Reset: n}); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// Stats reports the backlog.
//
// swagger:route GET /api/v1/batch/stats batchStats
//
// # Backlog statistics
//
// responses:
//
//	'200':
//	  description: Counts per processing state
func (h *BatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	stats, err := h.runner.Stats(ctx, h.vectorSize)
	if err != nil {
		logger.ErrorContext(ctx, "failed to compute backlog stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := writeJSON(w, http.StatusOK, stats); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
