package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"casematch/internal/llm"
)

// SearchLogRepo appends search log rows.
type SearchLogRepo struct {
	db *sql.DB
}

// NewSearchLogRepo creates a new SearchLogRepo.
func NewSearchLogRepo(db *sql.DB) *SearchLogRepo {
	return &SearchLogRepo{db: db}
}

// LogSearch appends one search record.
func (r *SearchLogRepo) LogSearch(ctx context.Context, rec SearchLogRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO search_log (search_id, query_text, top_k, latency_ms, result_count, error_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SearchID, rec.QueryText, rec.TopK, rec.Latency.Milliseconds(), rec.ResultCount,
		nullString(rec.ErrorText), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert search log %s: %w", rec.SearchID, err)
	}
	return nil
}

// Recent returns the latest search records, newest first.
func (r *SearchLogRepo) Recent(ctx context.Context, limit int) ([]SearchLogRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT search_id, query_text, top_k, latency_ms, result_count, error_text, created_at
		 FROM search_log ORDER BY created_at DESC, search_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []SearchLogRecord
	for rows.Next() {
		var rec SearchLogRecord
		var latencyMS int64
		var errText sql.NullString
		if err := rows.Scan(&rec.SearchID, &rec.QueryText, &rec.TopK, &latencyMS, &rec.ResultCount, &errText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search log: %w", err)
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.ErrorText = errText.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// EmbeddingCallRepo appends embedding call rows. It implements llm.CallObserver.
type EmbeddingCallRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEmbeddingCallRepo creates a new EmbeddingCallRepo.
func NewEmbeddingCallRepo(db *sql.DB) *EmbeddingCallRepo {
	return &EmbeddingCallRepo{db: db, logger: slog.Default()}
}

// Insert appends one embedding call record.
func (r *EmbeddingCallRepo) Insert(ctx context.Context, rec EmbeddingCallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO embedding_calls (model, input_chars, attempts, latency_ms, outcome, status_code, error_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Model, rec.InputChars, rec.Attempts, rec.Latency.Milliseconds(), rec.Outcome,
		rec.StatusCode, nullString(rec.ErrorText), rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert embedding call: %w", err)
	}
	return nil
}

// CountByOutcome returns the number of recorded calls per outcome.
func (r *EmbeddingCallRepo) CountByOutcome(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM embedding_calls GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to count embedding calls: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// ObserveEmbeddingCall records call. The write uses a context detached from
// the caller's cancellation so failed and canceled calls are still logged.
func (r *EmbeddingCallRepo) ObserveEmbeddingCall(ctx context.Context, call llm.EmbeddingCall) {
	rec := EmbeddingCallRecord{
		Model:      call.Model,
		InputChars: call.InputChars,
		Attempts:   call.Attempts,
		Latency:    call.Latency,
		Outcome:    call.Outcome,
		StatusCode: call.StatusCode,
	}
	if call.Err != nil {
		rec.ErrorText = call.Err.Error()
	}
	if err := r.Insert(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.WarnContext(ctx, "failed to record embedding call", "error", err)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
