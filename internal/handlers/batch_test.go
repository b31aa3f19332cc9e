package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"casematch/internal/indexer"
	"casematch/internal/service"
)

// fakeRunner records the arguments it was called with.
type fakeRunner struct {
	gotBatchSize int
	gotCaseIDs   []string
	gotDimension int

	result indexer.BatchResult
	reset  int
	stats  *indexer.BacklogStats
	err    error
}

func (f *fakeRunner) ProcessBatch(_ context.Context, batchSize int) (indexer.BatchResult, error) {
	f.gotBatchSize = batchSize
	if batchSize <= 0 {
		return indexer.BatchResult{}, &service.ValidationError{Field: "batch_size", Message: "must be greater than 0"}
	}
	return f.result, f.err
}

func (f *fakeRunner) ResetErrors(_ context.Context, caseIDs []string) (int, error) {
	f.gotCaseIDs = caseIDs
	return f.reset, f.err
}

func (f *fakeRunner) Stats(_ context.Context, dimension int) (*indexer.BacklogStats, error) {
	f.gotDimension = dimension
	return f.stats, f.err
}

func TestBatchHandler_Process(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		err           error
		wantStatus    int
		wantBatchSize int
	}{
		{name: "default batch size", body: "", wantStatus: http.StatusOK, wantBatchSize: 25},
		{name: "explicit batch size", body: `{"batch_size":3}`, wantStatus: http.StatusOK, wantBatchSize: 3},
		{name: "zero batch size", body: `{"batch_size":0}`, wantStatus: http.StatusBadRequest, wantBatchSize: 0},
		{name: "malformed body", body: `{"batch_size":"x"}`, wantStatus: http.StatusBadRequest, wantBatchSize: -1},
		{
			name:          "timeout",
			body:          `{}`,
			err:           fmt.Errorf("batch interrupted: %w", errors.Join(service.ErrTimeout, context.DeadlineExceeded)),
			wantStatus:    http.StatusGatewayTimeout,
			wantBatchSize: 25,
		},
		{name: "storage failure", body: `{}`, err: errors.New("database is locked"), wantStatus: http.StatusInternalServerError, wantBatchSize: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{gotBatchSize: -1, result: indexer.BatchResult{Claimed: 3, Processed: 2, Errored: 1}, err: tt.err}
			handler := NewBatchHandler(runner, 25, 8)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/process", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			handler.Process(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Process() status = %v, want %v; body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if runner.gotBatchSize != tt.wantBatchSize {
				t.Errorf("Process() batch size = %d, want %d", runner.gotBatchSize, tt.wantBatchSize)
			}
			if tt.wantStatus == http.StatusOK {
				var res indexer.BatchResult
				if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if res.Processed != 2 || res.Errored != 1 {
					t.Errorf("Process() result = %+v", res)
				}
			}
		})
	}
}

func TestBatchHandler_Reset(t *testing.T) {
	runner := &fakeRunner{reset: 2}
	handler := NewBatchHandler(runner, 25, 8)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/reset", bytes.NewBufferString(`{"case_ids":["A","B"]}`))
	w := httptest.NewRecorder()
	handler.Reset(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Reset() status = %v, want 200", w.Code)
	}
	if len(runner.gotCaseIDs) != 2 || runner.gotCaseIDs[0] != "A" {
		t.Errorf("Reset() case ids = %v", runner.gotCaseIDs)
	}
	var resp ResetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Reset != 2 {
		t.Errorf("Reset() reset = %d, want 2", resp.Reset)
	}

	// Empty body resets everything.
	runner = &fakeRunner{}
	handler = NewBatchHandler(runner, 25, 8)
	w = httptest.NewRecorder()
	handler.Reset(w, httptest.NewRequest(http.MethodPost, "/api/v1/batch/reset", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Reset() empty body status = %v, want 200", w.Code)
	}
	if runner.gotCaseIDs != nil {
		t.Errorf("Reset() empty body case ids = %v, want nil", runner.gotCaseIDs)
	}
}

func TestBatchHandler_Stats(t *testing.T) {
	runner := &fakeRunner{stats: &indexer.BacklogStats{Pending: 4, Done: 10, Vectors: 10, EmbeddingModel: "m"}}
	handler := NewBatchHandler(runner, 25, 384)

	w := httptest.NewRecorder()
	handler.Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/batch/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Stats() status = %v, want 200", w.Code)
	}
	if runner.gotDimension != 384 {
		t.Errorf("Stats() dimension = %d, want 384", runner.gotDimension)
	}
	var stats indexer.BacklogStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Pending != 4 || stats.Done != 10 {
		t.Errorf("Stats() = %+v", stats)
	}

	runner = &fakeRunner{err: errors.New("closed")}
	w = httptest.NewRecorder()
	NewBatchHandler(runner, 25, 384).Stats(w, httptest.NewRequest(http.MethodGet, "/api/v1/batch/stats", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Stats() failure status = %v, want 500", w.Code)
	}
}
