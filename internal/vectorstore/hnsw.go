package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"casematch/internal/contextutil"
)

// BackendHNSW names the in-process index.
const BackendHNSW = "hnsw"

// exactScanLimit is the graph size at or below which Search scans every node.
const exactScanLimit = 256

type pointMeta struct {
	catalogItemID string
	catalogPath   string
}

// HNSWIndex is an in-process cosine HNSW index.
// Searches share a read lock; Add and the final swap of Rebuild take the write lock.
type HNSWIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	meta    map[string]pointMeta
	params  IndexParams
	builtAt time.Time
}

// NewHNSWIndex creates an empty, unbuilt index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{}
}

func newGraph(params IndexParams) *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	g.M = params.M
	g.Ml = 1 / math.Log(float64(params.M))
	g.EfSearch = params.EfSearch
	return g
}

// Rebuild builds a fresh graph from points and swaps it in. Duplicate case ids keep the first point.
// The graph is assembled outside the lock, so searches keep using the old graph meanwhile.
func (x *HNSWIndex) Rebuild(ctx context.Context, params IndexParams, points []Point) error {
	logger := contextutil.LoggerFromContext(ctx)

	if params.M < 2 || params.EfConstruction <= 0 || params.EfSearch <= 0 {
		return fmt.Errorf("invalid hnsw params: %+v", params)
	}

	g := newGraph(params)
	// Insertion explores with the construction beam, queries with the search beam.
	g.EfSearch = params.EfConstruction
	meta := make(map[string]pointMeta, len(points))

	for i, p := range points {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, dup := meta[p.CaseID]; dup {
			continue
		}
		g.Add(hnsw.MakeNode(p.CaseID, p.Vector))
		meta[p.CaseID] = pointMeta{catalogItemID: p.CatalogItemID, catalogPath: p.CatalogPath}
	}
	g.EfSearch = params.EfSearch

	x.mu.Lock()
	x.graph = g
	x.meta = meta
	x.params = params
	x.builtAt = time.Now()
	x.mu.Unlock()

	logger.InfoContext(ctx, "hnsw index built", "points", len(meta), "m", params.M,
		"ef_construction", params.EfConstruction, "ef_search", params.EfSearch)
	return nil
}

// Add inserts or replaces points.
func (x *HNSWIndex) Add(ctx context.Context, points ...Point) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.graph == nil {
		return ErrIndexNotBuilt
	}
	for _, p := range points {
		if _, exists := x.meta[p.CaseID]; exists {
			x.deleteLocked(p.CaseID)
		}
		x.graph.Add(hnsw.MakeNode(p.CaseID, p.Vector))
		x.meta[p.CaseID] = pointMeta{catalogItemID: p.CatalogItemID, catalogPath: p.CatalogPath}
	}
	return nil
}

// deleteLocked removes key from the graph. Small graphs are rebuilt from the
// remaining nodes rather than patched, so the entry point is never left dangling.
func (x *HNSWIndex) deleteLocked(key string) {
	delete(x.meta, key)
	if len(x.meta) > exactScanLimit {
		x.graph.Delete(key)
		return
	}
	g := newGraph(x.params)
	for k := range x.meta {
		if vec, ok := x.graph.Lookup(k); ok {
			g.Add(hnsw.MakeNode(k, vec))
		}
	}
	x.graph = g
}

// Search returns up to k nearest points. Small graphs are scanned exhaustively.
func (x *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil {
		return nil, ErrIndexNotBuilt
	}
	if len(x.meta) == 0 {
		return []Hit{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []Hit
	if len(x.meta) <= exactScanLimit || len(x.meta) <= k {
		hits = make([]Hit, 0, len(x.meta))
		for key, m := range x.meta {
			vec, ok := x.graph.Lookup(key)
			if !ok {
				continue
			}
			hits = append(hits, x.hit(key, m, query, vec))
		}
	} else {
		nodes := x.graph.Search(query, k)
		hits = make([]Hit, 0, len(nodes))
		for _, n := range nodes {
			hits = append(hits, x.hit(n.Key, x.meta[n.Key], query, n.Value))
		}
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (x *HNSWIndex) hit(key string, m pointMeta, query, vec []float32) Hit {
	return Hit{
		CaseID:        key,
		CatalogItemID: m.catalogItemID,
		CatalogPath:   m.catalogPath,
		Distance:      cosineDistance(query, vec),
	}
}

// Status reports whether the graph is built and how many points it holds.
func (x *HNSWIndex) Status(ctx context.Context) (IndexStatus, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	st := IndexStatus{Backend: BackendHNSW, Built: x.graph != nil, Size: len(x.meta), Params: x.params}
	if st.Built {
		builtAt := x.builtAt
		st.BuiltAt = &builtAt
	}
	return st, nil
}

// Close drops the graph.
func (x *HNSWIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = nil
	x.meta = nil
	return nil
}

// cosineDistance is 1 - cosine similarity; a zero vector is at distance 1 from everything.
func cosineDistance(a, b []float32) float32 {
	d := hnsw.CosineDistance(a, b)
	if math.IsNaN(float64(d)) {
		return 1
	}
	return d
}
