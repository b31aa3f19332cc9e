package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"casematch/internal/contextutil"
	"casematch/internal/storage"
)

// Rows is the durable side of the store.
type Rows interface {
	Upsert(ctx context.Context, rec *storage.KnowledgeRecord) error
	Get(ctx context.Context, caseID string) (*storage.KnowledgeRecord, error)
	Revert(ctx context.Context, caseID string, prev *storage.KnowledgeRecord) error
	List(ctx context.Context) ([]*storage.KnowledgeRecord, error)
	Count(ctx context.Context) (int, error)
}

// Store keeps embeddings durable in SQLite and searchable through an Index.
// Until BuildIndex (or Warm) succeeds, Search scans the rows exactly so results
// are available during bulk population.
//
// BuildIndex is not safe against concurrent Upserts: points written while a
// rebuild runs may be missing from the new index until the next rebuild.
type Store struct {
	rows       Rows
	index      Index
	vectorSize int

	mu    sync.RWMutex
	built bool
}

// NewStore creates a store over rows and index for vectors of vectorSize.
func NewStore(rows Rows, index Index, vectorSize int) *Store {
	return &Store{rows: rows, index: index, vectorSize: vectorSize}
}

func (s *Store) checkDimension(v []float32) error {
	if len(v) != s.vectorSize {
		return fmt.Errorf("expected %d dimensions, got %d: %w", s.vectorSize, len(v), storage.ErrDimensionMismatch)
	}
	return nil
}

// Upsert writes the row and, once the index is built, adds the point to it.
// When the index add fails the row is put back the way it was, so a failed
// upsert leaves no trace in either.
func (s *Store) Upsert(ctx context.Context, entry Entry) error {
	if entry.CaseID == "" {
		return fmt.Errorf("entry has no case id")
	}
	if err := s.checkDimension(entry.Vector); err != nil {
		return fmt.Errorf("case %s: %w", entry.CaseID, err)
	}

	vec := make([]float32, len(entry.Vector))
	copy(vec, entry.Vector)

	indexed := s.Ready()
	var prev *storage.KnowledgeRecord
	if indexed {
		var err error
		prev, err = s.rows.Get(ctx, entry.CaseID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to read vector for case %s: %w", entry.CaseID, err)
		}
	}

	err := s.rows.Upsert(ctx, &storage.KnowledgeRecord{
		CaseID:         entry.CaseID,
		CatalogItemID:  entry.CatalogItemID,
		CatalogPath:    entry.CatalogPath,
		NarrativeText:  entry.NarrativeText,
		Vector:         vec,
		EmbeddingModel: entry.Model,
	})
	if err != nil {
		return err
	}

	if !indexed {
		return nil
	}
	err = s.index.Add(ctx, Point{
		CaseID:        entry.CaseID,
		CatalogItemID: entry.CatalogItemID,
		CatalogPath:   entry.CatalogPath,
		Vector:        vec,
	})
	if err == nil {
		return nil
	}

	addErr := fmt.Errorf("failed to index case %s: %w", entry.CaseID, err)
	if rerr := s.rollback(context.WithoutCancel(ctx), entry.CaseID, prev); rerr != nil {
		return errors.Join(addErr, rerr)
	}
	return addErr
}

// rollback restores the row replaced by a failed Upsert and re-adds its point.
func (s *Store) rollback(ctx context.Context, caseID string, prev *storage.KnowledgeRecord) error {
	if err := s.rows.Revert(ctx, caseID, prev); err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	err := s.index.Add(ctx, Point{
		CaseID:        prev.CaseID,
		CatalogItemID: prev.CatalogItemID,
		CatalogPath:   prev.CatalogPath,
		Vector:        prev.Vector,
	})
	if err != nil {
		// The row is intact; the next rebuild picks the point up again.
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to re-index restored vector", "case_id", caseID, "error", err)
	}
	return nil
}

// BuildIndex drops and rebuilds the ANN index from every stored row.
func (s *Store) BuildIndex(ctx context.Context, metric Metric, targetAccuracy float64) (IndexStatus, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if metric != MetricCosine {
		return IndexStatus{}, fmt.Errorf("%w: %q", ErrUnsupportedMetric, metric)
	}
	params, err := ParamsForAccuracy(targetAccuracy)
	if err != nil {
		return IndexStatus{}, err
	}

	records, err := s.rows.List(ctx)
	if err != nil {
		return IndexStatus{}, fmt.Errorf("failed to load vectors: %w", err)
	}
	points := make([]Point, 0, len(records))
	for _, rec := range records {
		if err := s.checkDimension(rec.Vector); err != nil {
			return IndexStatus{}, fmt.Errorf("case %s: %w", rec.CaseID, err)
		}
		points = append(points, Point{
			CaseID:        rec.CaseID,
			CatalogItemID: rec.CatalogItemID,
			CatalogPath:   rec.CatalogPath,
			Vector:        rec.Vector,
		})
	}

	// A backend may drop its data before reloading it, so searches go to the
	// rows until the rebuild succeeds.
	s.mu.Lock()
	s.built = false
	s.mu.Unlock()

	logger.InfoContext(ctx, "building vector index", "points", len(points), "target_accuracy", targetAccuracy)
	if err := s.index.Rebuild(ctx, params, points); err != nil {
		return IndexStatus{}, fmt.Errorf("failed to build index: %w", err)
	}

	s.mu.Lock()
	s.built = true
	s.mu.Unlock()

	return s.index.Status(ctx)
}

// Warm prepares the index at startup. A backend that already holds every row
// (a persistent Qdrant collection) is adopted as is; otherwise the index is
// rebuilt when rows exist. An empty store stays on exact search.
func (s *Store) Warm(ctx context.Context, targetAccuracy float64) (IndexStatus, error) {
	count, err := s.rows.Count(ctx)
	if err != nil {
		return IndexStatus{}, err
	}
	if count == 0 {
		return s.index.Status(ctx)
	}

	st, err := s.index.Status(ctx)
	if err == nil && st.Built && st.Size == count {
		s.mu.Lock()
		s.built = true
		s.mu.Unlock()
		return st, nil
	}
	return s.BuildIndex(ctx, MetricCosine, targetAccuracy)
}

// Search returns the k nearest stored cases to query.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if err := s.checkDimension(query); err != nil {
		return nil, err
	}

	if s.Ready() {
		return s.index.Search(ctx, query, k)
	}
	return s.exactSearch(ctx, query, k)
}

func (s *Store) exactSearch(ctx context.Context, query []float32, k int) ([]Hit, error) {
	records, err := s.rows.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}

	hits := make([]Hit, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != len(query) {
			continue
		}
		hits = append(hits, Hit{
			CaseID:        rec.CaseID,
			CatalogItemID: rec.CatalogItemID,
			CatalogPath:   rec.CatalogPath,
			Distance:      cosineDistance(query, rec.Vector),
		})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Ready reports whether searches go through the ANN index.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.built
}

// Status reports the index state.
func (s *Store) Status(ctx context.Context) (IndexStatus, error) {
	st, err := s.index.Status(ctx)
	if err != nil {
		return st, err
	}
	st.Built = st.Built && s.Ready()
	return st, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.index.Close()
}
