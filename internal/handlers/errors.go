package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"casematch/internal/service"
)

// ErrorResponse represents an error response.
//
// swagger:model ErrorResponse
type ErrorResponse struct {
	Error string `json:"error"`
	// SearchID correlates a failed recommendation with its search log entry.
	SearchID string `json:"search_id,omitempty"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	_ = writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// statusForKind maps a search error kind to an HTTP status and a message safe to show callers.
func statusForKind(kind service.ErrorKind) (int, string) {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest, "Invalid query"
	case service.KindEmbedding:
		return http.StatusBadGateway, "Embedding service error"
	case service.KindDimension:
		return http.StatusServiceUnavailable, "Vector index does not match the embedding model"
	case service.KindStorage:
		return http.StatusServiceUnavailable, "Vector store unavailable"
	case service.KindTimeout:
		return http.StatusGatewayTimeout, "Request timed out"
	case service.KindCanceled:
		return http.StatusServiceUnavailable, "Request canceled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// statusForError maps non-search errors from the batch and index operations.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrTimeout):
		return http.StatusGatewayTimeout, "Operation timed out"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
