package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"casematch/internal/vectorstore"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("database is closed") })

	tests := []struct {
		name       string
		db         Pinger
		index      *fakeBuilder
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "healthy",
			db:         ok,
			index:      &fakeBuilder{status: vectorstore.IndexStatus{Backend: "hnsw", Built: true, Size: 3}},
			wantStatus: http.StatusOK,
			wantBody:   "healthy",
			wantChecks: map[string]string{"database": "ok", "vector_index": "ok"},
		},
		{
			name:       "index not built is degraded",
			db:         ok,
			index:      &fakeBuilder{status: vectorstore.IndexStatus{Backend: "hnsw"}},
			wantStatus: http.StatusOK,
			wantBody:   "degraded",
			wantChecks: map[string]string{"database": "ok", "vector_index": "not_built"},
		},
		{
			name:       "database down",
			db:         down,
			index:      &fakeBuilder{status: vectorstore.IndexStatus{Built: true}},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
			wantChecks: map[string]string{"database": "error", "vector_index": "ok"},
		},
		{
			name:       "index unavailable",
			db:         ok,
			index:      &fakeBuilder{statusErr: errors.New("qdrant down")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "unhealthy",
			wantChecks: map[string]string{"database": "ok", "vector_index": "error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.db, tt.index).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("health status = %q, want %q", resp.Status, tt.wantBody)
			}
			for k, v := range tt.wantChecks {
				if resp.Checks[k] != v {
					t.Errorf("check %s = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}

func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(pingFunc(func(context.Context) error { return nil }), &fakeBuilder{}).
		ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %v, want 405", w.Code)
	}
}
