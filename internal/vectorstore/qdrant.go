package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"casematch/internal/contextutil"
)

// BackendQdrant names the remote index.
const BackendQdrant = "qdrant"

const (
	payloadCaseID        = "case_id"
	payloadCatalogItemID = "catalog_item_id"
	payloadCatalogPath   = "catalog_path"

	upsertChunkSize = 256
)

// QdrantIndex implements Index on a Qdrant collection with cosine distance.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	vectorSize int

	mu      sync.RWMutex
	params  IndexParams
	builtAt time.Time
}

// NewQdrantIndex creates a new Qdrant index client.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port (typically 6334) will be derived from the HTTP port.
func NewQdrantIndex(urlStr, collection string, vectorSize int) (*QdrantIndex, error) {
	host, port, err := grpcAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantIndex{
		client:     client,
		collection: collection,
		vectorSize: vectorSize,
	}, nil
}

// grpcAddress derives the gRPC host and port from the Qdrant HTTP URL.
func grpcAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334 // Default gRPC port
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			// gRPC port is typically HTTP port + 1
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// pointID maps a case id to a stable Qdrant UUID point id.
func pointID(caseID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("casematch:case:"+caseID)).String()
}

// Rebuild drops and recreates the collection with the HNSW params, then loads points.
func (s *QdrantIndex) Rebuild(ctx context.Context, params IndexParams, points []Point) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
		HnswConfig: &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(uint64(params.M)),
			EfConstruct: qdrant.PtrOf(uint64(params.EfConstruction)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for start := 0; start < len(points); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(points))
		if err := s.upsert(ctx, points[start:end]); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.params = params
	s.builtAt = time.Now()
	s.mu.Unlock()

	logger.InfoContext(ctx, "qdrant collection rebuilt", "collection", s.collection, "points", len(points),
		"m", params.M, "ef_construction", params.EfConstruction)
	return nil
}

// Add inserts or updates points in the collection.
func (s *QdrantIndex) Add(ctx context.Context, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	return s.upsert(ctx, points)
}

func (s *QdrantIndex) upsert(ctx context.Context, points []Point) error {
	logger := contextutil.LoggerFromContext(ctx)

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(point.CaseID)),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadCaseID:        point.CaseID,
				payloadCatalogItemID: point.CatalogItemID,
				payloadCatalogPath:   point.CatalogPath,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", s.collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.DebugContext(ctx, "upserted points", "collection", s.collection, "count", len(points))
	return nil
}

// Search performs an HNSW search with the configured ef.
func (s *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if k <= 0 {
		return nil, ErrInvalidK
	}

	s.mu.RLock()
	efSearch := s.params.EfSearch
	s.mu.RUnlock()

	limit := uint64(k)
	queryReq := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if efSearch > 0 {
		queryReq.Params = &qdrant.SearchParams{HnswEf: qdrant.PtrOf(uint64(efSearch))}
	}

	scoredPoints, err := s.client.Query(ctx, queryReq)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", s.collection, "k", k, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(scoredPoints))
	for _, result := range scoredPoints {
		hits = append(hits, Hit{
			CaseID:        payloadString(result.Payload, payloadCaseID),
			CatalogItemID: payloadString(result.Payload, payloadCatalogItemID),
			CatalogPath:   payloadString(result.Payload, payloadCatalogPath),
			Distance:      1 - result.Score,
		})
	}
	sortHits(hits)

	logger.DebugContext(ctx, "search completed", "collection", s.collection, "k", k, "results", len(hits))
	return hits, nil
}

// Status reports the collection's point count.
func (s *QdrantIndex) Status(ctx context.Context) (IndexStatus, error) {
	s.mu.RLock()
	st := IndexStatus{Backend: BackendQdrant, Params: s.params}
	if !s.builtAt.IsZero() {
		builtAt := s.builtAt
		st.BuiltAt = &builtAt
	}
	s.mu.RUnlock()

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return st, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return st, nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return st, fmt.Errorf("failed to get collection info: %w", err)
	}
	if size := collectionVectorSize(info); size != s.vectorSize {
		return st, fmt.Errorf("collection vector size mismatch: expected %d, got %d", s.vectorSize, size)
	}
	if info.PointsCount != nil {
		st.Size = int(*info.PointsCount)
	}
	st.Built = true
	return st, nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

func collectionVectorSize(info *qdrant.CollectionInfo) int {
	if config := info.GetConfig(); config != nil && config.Params != nil {
		if vectorsConfig := config.Params.GetVectorsConfig(); vectorsConfig != nil {
			if params := vectorsConfig.GetParams(); params != nil {
				return int(params.Size)
			}
		}
	}
	return 0
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return v.GetStringValue()
	}
	return ""
}
