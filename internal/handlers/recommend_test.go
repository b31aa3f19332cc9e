package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"casematch/internal/retrieval"
	"casematch/internal/retrieval/mocks"
	"casematch/internal/service"
)

func TestRecommendHandler_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	handler := NewRecommendHandler(engine)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.EXPECT().Recommend(gomock.Any(), "printer offline", 3).Return(&retrieval.Result{
		SearchID:  "s-1",
		Query:     "printer offline",
		Timestamp: ts,
		Recommendations: []retrieval.Recommendation{
			{Rank: 1, CatalogItemID: "printer", CatalogPath: "Hardware > Printer", RelevanceScore: 0.8, Frequency: 5, MaxScore: 0.9},
		},
	}, nil)

	body, _ := json.Marshal(RecommendRequest{Query: "printer offline", TopK: 3})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ServeHTTP() status = %v, want 200; body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, key := range []string{"search_id", "query", "timestamp", "recommendations"} {
		if _, ok := got[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
	recs := got["recommendations"].([]any)
	first := recs[0].(map[string]any)
	for _, key := range []string{"rank", "catalog_item_id", "catalog_path", "relevance_score", "frequency", "max_score"} {
		if _, ok := first[key]; !ok {
			t.Errorf("recommendation missing %q", key)
		}
	}
}

func TestRecommendHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantID     string
	}{
		{
			name: "validation",
			err: &service.SearchError{SearchID: "s-v", Kind: service.KindValidation,
				Err: &service.ValidationError{Field: "query", Message: "must not be empty"}},
			wantStatus: http.StatusBadRequest,
			wantID:     "s-v",
		},
		{
			name:       "embedding",
			err:        &service.SearchError{SearchID: "s-e", Kind: service.KindEmbedding, Err: errors.New("503 from provider")},
			wantStatus: http.StatusBadGateway,
			wantID:     "s-e",
		},
		{
			name:       "storage",
			err:        &service.SearchError{SearchID: "s-s", Kind: service.KindStorage, Err: errors.New("disk")},
			wantStatus: http.StatusServiceUnavailable,
			wantID:     "s-s",
		},
		{
			name:       "dimension",
			err:        &service.SearchError{SearchID: "s-d", Kind: service.KindDimension, Err: errors.New("dim")},
			wantStatus: http.StatusServiceUnavailable,
			wantID:     "s-d",
		},
		{
			name:       "timeout",
			err:        &service.SearchError{SearchID: "s-t", Kind: service.KindTimeout, Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantID:     "s-t",
		},
		{
			name:       "unclassified",
			err:        errors.New("sql: connection is already closed"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			engine := mocks.NewMockEngine(ctrl)
			engine.EXPECT().Recommend(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", bytes.NewBufferString(`{"query":"x"}`))
			w := httptest.NewRecorder()
			NewRecommendHandler(engine).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp.SearchID != tt.wantID {
				t.Errorf("search_id = %q, want %q", resp.SearchID, tt.wantID)
			}
			if resp.Error == "" {
				t.Error("error message should not be empty")
			}
			if bytes.Contains(w.Body.Bytes(), []byte("sql:")) || bytes.Contains(w.Body.Bytes(), []byte("disk")) {
				t.Errorf("response leaks internal error: %s", w.Body.String())
			}
		})
	}
}

func TestRecommendHandler_BadRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	handler := NewRecommendHandler(mocks.NewMockEngine(ctrl))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %v, want 400", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/recommend", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %v, want 405", w.Code)
	}
}

func TestRecommendHandler_ClientGone(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockEngine(ctrl)
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	engine.EXPECT().Recommend(gomock.Any(), "slow", 0).DoAndReturn(func(context.Context, string, int) (*retrieval.Result, error) {
		close(started)
		<-release
		return &retrieval.Result{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", bytes.NewBufferString(`{"query":"slow"}`)).WithContext(ctx)
	w := httptest.NewRecorder()
	cancel()

	NewRecommendHandler(engine).ServeHTTP(w, req)
	<-started

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %v, want 503", w.Code)
	}
}
