package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimension pinned for its embedding model.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// KnowledgeRepo provides methods for knowledge vector operations.
type KnowledgeRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewKnowledgeRepo creates a new KnowledgeRepo.
func NewKnowledgeRepo(db *sql.DB) *KnowledgeRepo {
	return &KnowledgeRepo{db: db, now: time.Now}
}

// Upsert inserts or replaces the vector for rec.CaseID.
// The first write for an embedding model pins its dimension; later writes with
// a different length fail with ErrDimensionMismatch. created_at survives overwrites.
func (r *KnowledgeRepo) Upsert(ctx context.Context, rec *KnowledgeRecord) error {
	if len(rec.Vector) == 0 {
		return fmt.Errorf("case %s: empty vector: %w", rec.CaseID, ErrDimensionMismatch)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now().UTC()
	dim := len(rec.Vector)

	var pinned int
	err = tx.QueryRowContext(ctx,
		"SELECT dimension FROM vector_dimensions WHERE embedding_model = ?", rec.EmbeddingModel,
	).Scan(&pinned)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO vector_dimensions (embedding_model, dimension, created_at) VALUES (?, ?, ?)",
			rec.EmbeddingModel, dim, now,
		); err != nil {
			return fmt.Errorf("failed to pin dimension: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to query dimension: %w", err)
	case pinned != dim:
		return fmt.Errorf("case %s: model %s expects %d, got %d: %w", rec.CaseID, rec.EmbeddingModel, pinned, dim, ErrDimensionMismatch)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_vectors
		 (case_id, catalog_item_id, catalog_path, narrative_text, vector, dimension, embedding_model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (case_id) DO UPDATE SET
		 catalog_item_id = excluded.catalog_item_id, catalog_path = excluded.catalog_path,
		 narrative_text = excluded.narrative_text, vector = excluded.vector,
		 dimension = excluded.dimension, embedding_model = excluded.embedding_model,
		 updated_at = excluded.updated_at`,
		rec.CaseID, rec.CatalogItemID, rec.CatalogPath, rec.NarrativeText,
		encodeVector(rec.Vector), dim, rec.EmbeddingModel, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vector for case %s: %w", rec.CaseID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit vector upsert: %w", err)
	}
	return nil
}

// Revert puts the row for caseID back to prev, as returned by Get before an
// Upsert. A nil prev deletes the row.
func (r *KnowledgeRepo) Revert(ctx context.Context, caseID string, prev *KnowledgeRecord) error {
	if prev == nil {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM knowledge_vectors WHERE case_id = ?", caseID); err != nil {
			return fmt.Errorf("failed to delete vector for case %s: %w", caseID, err)
		}
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_vectors
		 SET catalog_item_id = ?, catalog_path = ?, narrative_text = ?, vector = ?,
		     dimension = ?, embedding_model = ?, created_at = ?, updated_at = ?
		 WHERE case_id = ?`,
		prev.CatalogItemID, prev.CatalogPath, prev.NarrativeText, encodeVector(prev.Vector),
		len(prev.Vector), prev.EmbeddingModel, prev.CreatedAt, prev.UpdatedAt, caseID,
	)
	if err != nil {
		return fmt.Errorf("failed to restore vector for case %s: %w", caseID, err)
	}
	return nil
}

const knowledgeColumns = `case_id, catalog_item_id, catalog_path, narrative_text, vector,
	embedding_model, created_at, updated_at`

// Get gets the vector row for a case.
// Returns nil and ErrNotFound if not found.
func (r *KnowledgeRepo) Get(ctx context.Context, caseID string) (*KnowledgeRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+knowledgeColumns+" FROM knowledge_vectors WHERE case_id = ?", caseID)
	rec, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vector: %w", err)
	}
	return rec, nil
}

// List returns every stored vector ordered by case id.
func (r *KnowledgeRepo) List(ctx context.Context) ([]*KnowledgeRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+knowledgeColumns+" FROM knowledge_vectors ORDER BY case_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []*KnowledgeRecord
	for rows.Next() {
		rec, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Count returns the number of stored vectors.
func (r *KnowledgeRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM knowledge_vectors").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return count, nil
}

// Dimension returns the pinned dimension for a model, or 0 if none is pinned yet.
func (r *KnowledgeRepo) Dimension(ctx context.Context, model string) (int, error) {
	var dim int
	err := r.db.QueryRowContext(ctx,
		"SELECT dimension FROM vector_dimensions WHERE embedding_model = ?", model).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query dimension: %w", err)
	}
	return dim, nil
}

func scanKnowledge(row rowScanner) (*KnowledgeRecord, error) {
	var rec KnowledgeRecord
	var blob []byte
	err := row.Scan(&rec.CaseID, &rec.CatalogItemID, &rec.CatalogPath, &rec.NarrativeText, &blob,
		&rec.EmbeddingModel, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Vector, err = decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", rec.CaseID, err)
	}
	return &rec, nil
}

// encodeVector packs v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
