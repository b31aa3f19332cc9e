package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks casematch/internal/vectorstore VectorStore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrIndexNotBuilt is returned by an Index that has not been built yet.
	ErrIndexNotBuilt = errors.New("vector index not built")
	// ErrUnsupportedMetric is returned by BuildIndex for any metric other than cosine.
	ErrUnsupportedMetric = errors.New("unsupported distance metric")
	// ErrInvalidAccuracy is returned by BuildIndex when the target accuracy is outside (0, 100].
	ErrInvalidAccuracy = errors.New("target accuracy must be in (0, 100]")
	// ErrInvalidK is returned by Search when k <= 0.
	ErrInvalidK = errors.New("k must be greater than 0")
)

// Metric is the distance function an index is built for.
type Metric string

// MetricCosine is cosine distance (1 - cosine similarity).
const MetricCosine Metric = "cosine"

// Entry is a case embedding written through the store.
type Entry struct {
	CaseID        string
	CatalogItemID string
	CatalogPath   string
	NarrativeText string
	Vector        []float32
	Model         string // Embedding model that produced Vector
}

// Point is an entry as held by an ANN index.
type Point struct {
	CaseID        string
	CatalogItemID string
	CatalogPath   string
	Vector        []float32
}

// Hit is one nearest-neighbor result.
type Hit struct {
	CaseID        string
	CatalogItemID string
	CatalogPath   string
	Distance      float32 // Cosine distance, lower is closer
}

// IndexParams are the HNSW build and query parameters.
type IndexParams struct {
	M              int     `json:"m"`
	EfConstruction int     `json:"ef_construction"`
	EfSearch       int     `json:"ef_search"`
	TargetAccuracy float64 `json:"target_accuracy"`
}

// IndexStatus describes the ANN index for health checks and the build endpoint.
type IndexStatus struct {
	Backend string      `json:"backend"`
	Built   bool        `json:"built"`
	Size    int         `json:"size"`
	Params  IndexParams `json:"params"`
	BuiltAt *time.Time  `json:"built_at,omitempty"`
}

// VectorStore is the store surface used by the batch processor and the retrieval engine.
type VectorStore interface {
	// Upsert writes or replaces the embedding for entry.CaseID.
	Upsert(ctx context.Context, entry Entry) error

	// Search returns up to k hits ordered by ascending distance, ties by case id.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
}

// Index is an approximate nearest-neighbor backend.
type Index interface {
	// Rebuild drops the index and builds it from points with params.
	Rebuild(ctx context.Context, params IndexParams, points []Point) error
	// Add inserts or replaces points in a built index.
	Add(ctx context.Context, points ...Point) error
	// Search returns up to k hits in ascending distance order.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Status reports the index state.
	Status(ctx context.Context) (IndexStatus, error)
	// Close releases backend resources.
	Close() error
}
