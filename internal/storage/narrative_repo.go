package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_narrative_store.go -package=mocks casematch/internal/storage NarrativeStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrClaimLost is returned when a state write finds the record no longer held by the caller's claim token.
	ErrClaimLost = errors.New("claim lost")
)

// NarrativeStore defines the staging operations used by the batch processor.
type NarrativeStore interface {
	// Claim atomically leases up to limit pending records to token and returns them.
	// Records under an unexpired lease are skipped; expired leases are reclaimable.
	Claim(ctx context.Context, token string, limit int, lease time.Duration) ([]*StagingNarrative, error)
	// MarkDone moves a claimed record to done. Returns ErrClaimLost if token no longer holds it.
	MarkDone(ctx context.Context, caseID, token string) error
	// MarkError moves a claimed record to error with a reason. Returns ErrClaimLost if token no longer holds it.
	MarkError(ctx context.Context, caseID, token, reason string) error
	// Release returns claimed but unprocessed records to the claimable pool.
	Release(ctx context.Context, token string, caseIDs []string) (int, error)
	// ResetErrors moves error records back to pending. An empty caseIDs resets every error record.
	ResetErrors(ctx context.Context, caseIDs []string) (int, error)
	// Counts summarizes the backlog by state.
	Counts(ctx context.Context) (NarrativeCounts, error)
}

// NarrativeRepo provides methods for staging narrative operations.
// It implements the NarrativeStore interface.
type NarrativeRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewNarrativeRepo creates a new NarrativeRepo.
func NewNarrativeRepo(db *sql.DB) *NarrativeRepo {
	return &NarrativeRepo{db: db, now: time.Now}
}

const narrativeColumns = `case_id, catalog_item_id, catalog_path, narrative_text, processing_state,
	processed_at, error_message, attempts, created_at`

// Import inserts new pending narratives. Records whose case id already exists
// are left untouched. Returns the number of rows inserted.
func (r *NarrativeRepo) Import(ctx context.Context, narratives []*StagingNarrative) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO staging_narratives
		 (case_id, catalog_item_id, catalog_path, narrative_text, processing_state, created_at)
		 VALUES (?, ?, ?, ?, 'pending', ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	now := r.now().UTC()
	inserted := 0
	for _, n := range narratives {
		if n.CaseID == "" || n.CatalogItemID == "" {
			return 0, fmt.Errorf("narrative requires case_id and catalog_item_id (case %q)", n.CaseID)
		}
		res, err := stmt.ExecContext(ctx, n.CaseID, n.CatalogItemID, n.CatalogPath, n.NarrativeText, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert narrative %s: %w", n.CaseID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return inserted, nil
}

// Get gets a narrative by case id.
// Returns nil and ErrNotFound if not found.
func (r *NarrativeRepo) Get(ctx context.Context, caseID string) (*StagingNarrative, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+narrativeColumns+" FROM staging_narratives WHERE case_id = ?", caseID)
	n, err := scanNarrative(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query narrative: %w", err)
	}
	return n, nil
}

// Claim leases up to limit pending records to token.
// The UPDATE selects and stamps rows in one statement, so two callers can
// never receive the same record while its lease is live.
func (r *NarrativeRepo) Claim(ctx context.Context, token string, limit int, lease time.Duration) ([]*StagingNarrative, error) {
	if token == "" {
		return nil, fmt.Errorf("claim token must not be empty")
	}
	if limit <= 0 {
		return nil, nil
	}

	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE staging_narratives
		 SET claim_token = ?, lease_expires_at = ?, attempts = attempts + 1
		 WHERE processing_state = 'pending' AND case_id IN (
			SELECT case_id FROM staging_narratives
			WHERE processing_state = 'pending'
			  AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
			ORDER BY created_at, case_id
			LIMIT ?)`,
		token, now.Add(lease).UnixMilli(), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim narratives: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+narrativeColumns+` FROM staging_narratives
		 WHERE claim_token = ? AND processing_state = 'pending'
		 ORDER BY created_at, case_id`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed narratives: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	claimed := make([]*StagingNarrative, 0, affected)
	for rows.Next() {
		n, err := scanNarrative(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan narrative: %w", err)
		}
		claimed = append(claimed, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return claimed, nil
}

// MarkDone moves a claimed record to done.
func (r *NarrativeRepo) MarkDone(ctx context.Context, caseID, token string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE staging_narratives
		 SET processing_state = 'done', processed_at = ?, error_message = NULL,
		     claim_token = NULL, lease_expires_at = NULL
		 WHERE case_id = ? AND claim_token = ? AND processing_state = 'pending'`,
		r.now().UTC(), caseID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to mark narrative %s done: %w", caseID, err)
	}
	return expectOne(res, caseID)
}

// MarkError moves a claimed record to error, keeping reason for operators.
func (r *NarrativeRepo) MarkError(ctx context.Context, caseID, token, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE staging_narratives
		 SET processing_state = 'error', processed_at = ?, error_message = ?,
		     claim_token = NULL, lease_expires_at = NULL
		 WHERE case_id = ? AND claim_token = ? AND processing_state = 'pending'`,
		r.now().UTC(), reason, caseID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to mark narrative %s error: %w", caseID, err)
	}
	return expectOne(res, caseID)
}

// Release clears the lease on records still held by token and takes back the
// attempt their claim counted, since none of them was processed.
func (r *NarrativeRepo) Release(ctx context.Context, token string, caseIDs []string) (int, error) {
	if len(caseIDs) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(caseIDs)+1)
	args = append(args, token)
	for _, id := range caseIDs {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE staging_narratives
		 SET claim_token = NULL, lease_expires_at = NULL, attempts = MAX(attempts - 1, 0)
		 WHERE claim_token = ? AND processing_state = 'pending' AND case_id IN (`+placeholders(len(caseIDs))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release narratives: %w", err)
	}
	return rowsAffected(res)
}

// ResetErrors moves error records back to pending. Done and pending records are never touched.
func (r *NarrativeRepo) ResetErrors(ctx context.Context, caseIDs []string) (int, error) {
	query := `UPDATE staging_narratives
		SET processing_state = 'pending', processed_at = NULL, error_message = NULL,
		    claim_token = NULL, lease_expires_at = NULL
		WHERE processing_state = 'error'`
	args := make([]any, 0, len(caseIDs))
	if len(caseIDs) > 0 {
		query += " AND case_id IN (" + placeholders(len(caseIDs)) + ")"
		for _, id := range caseIDs {
			args = append(args, id)
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset error narratives: %w", err)
	}
	return rowsAffected(res)
}

// Counts summarizes the backlog by state.
func (r *NarrativeRepo) Counts(ctx context.Context) (NarrativeCounts, error) {
	var counts NarrativeCounts

	rows, err := r.db.QueryContext(ctx,
		"SELECT processing_state, COUNT(*) FROM staging_narratives GROUP BY processing_state")
	if err != nil {
		return counts, fmt.Errorf("failed to count narratives: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return counts, fmt.Errorf("failed to scan count: %w", err)
		}
		switch state {
		case StatePending:
			counts.Pending = n
		case StateDone:
			counts.Done = n
		case StateError:
			counts.Error = n
		}
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("row iteration error: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staging_narratives
		 WHERE processing_state = 'pending' AND lease_expires_at > ?`,
		r.now().UnixMilli(),
	).Scan(&counts.InFlight)
	if err != nil {
		return counts, fmt.Errorf("failed to count in-flight narratives: %w", err)
	}

	var last sql.NullTime
	err = r.db.QueryRowContext(ctx,
		`SELECT processed_at FROM staging_narratives
		 WHERE processed_at IS NOT NULL ORDER BY processed_at DESC LIMIT 1`,
	).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return counts, fmt.Errorf("failed to query last processed time: %w", err)
	}
	if last.Valid {
		counts.LastProcessedAt = &last.Time
	}

	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNarrative(row rowScanner) (*StagingNarrative, error) {
	var n StagingNarrative
	var processedAt sql.NullTime
	var errMsg sql.NullString
	err := row.Scan(&n.CaseID, &n.CatalogItemID, &n.CatalogPath, &n.NarrativeText, &n.ProcessingState,
		&processedAt, &errMsg, &n.Attempts, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		n.ProcessedAt = &processedAt.Time
	}
	n.ErrorMessage = errMsg.String
	return &n, nil
}

func expectOne(res sql.Result, caseID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("narrative %s: %w", caseID, ErrClaimLost)
	}
	return nil
}

func rowsAffected(res sql.Result) (int, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(affected), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
