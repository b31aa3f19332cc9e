package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"casematch/internal/contextutil"
	"casematch/internal/retrieval"
	"casematch/internal/service"
)

// RecommendHandler handles HTTP requests for catalog recommendations.
type RecommendHandler struct {
	engine retrieval.Engine
}

// NewRecommendHandler creates a new RecommendHandler.
func NewRecommendHandler(engine retrieval.Engine) *RecommendHandler {
	return &RecommendHandler{engine: engine}
}

// RecommendRequest represents the HTTP request payload for recommendations.
//
// swagger:model RecommendRequest
type RecommendRequest struct {
	// Free-text description of the new case
	Query string `json:"query"`
	// Number of catalog items to return (default 5, max 20)
	TopK int `json:"top_k,omitempty"`
}

// ServeHTTP handles HTTP requests for recommendations.
//
// swagger:route POST /api/v1/recommend recommend
//
// # Recommend catalog items for a query
//
// Embeds the query, finds the most similar historical cases and ranks their
// catalog items by how often they occur, then by average similarity.
//
// ---
// consumes:
// - application/json
// produces:
// - application/json
// responses:
//
//	'200':
//	  description: Ranked recommendations
//	'400':
//	  description: Empty or invalid query
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'502':
//	  description: Embedding service error
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'503':
//	  description: Vector store unavailable
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'504':
//	  description: Request timed out
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *RecommendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := service.Await(ctx, service.Submit(ctx, func(ctx context.Context) (*retrieval.Result, error) {
		return h.engine.Recommend(ctx, req.Query, req.TopK)
	}))
	if err != nil {
		h.writeSearchError(ctx, w, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, result); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeSearchError converts err into the JSON error envelope.
func (h *RecommendHandler) writeSearchError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := contextutil.LoggerFromContext(ctx)

	var se *service.SearchError
	if !errors.As(err, &se) {
		// The client went away before the engine answered.
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "recommendation abandoned", "error", err)
			status, msg := statusForKind(service.KindCanceled)
			writeError(w, status, msg)
			return
		}
		logger.ErrorContext(ctx, "unclassified recommendation error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status, msg := statusForKind(se.Kind)
	if se.Kind == service.KindValidation {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			msg = ve.Field + " " + ve.Message
		}
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "recommendation failed", "search_id", se.SearchID, "kind", se.Kind, "error", err)
	}
	_ = writeJSON(w, status, ErrorResponse{Error: msg, SearchID: se.SearchID})
}
