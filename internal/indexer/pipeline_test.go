package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"casematch/internal/llm"
	llm_mocks "casematch/internal/llm/mocks"
	"casematch/internal/service"
	"casematch/internal/storage"
	storage_mocks "casematch/internal/storage/mocks"
	"casematch/internal/vectorstore"
	vectorstore_mocks "casematch/internal/vectorstore/mocks"
)

type pipelineMocks struct {
	narratives *storage_mocks.MockNarrativeStore
	embedder   *llm_mocks.MockEmbedder
	store      *vectorstore_mocks.MockVectorStore
}

func newMockPipeline(t *testing.T, cfg Config) (*Pipeline, pipelineMocks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := pipelineMocks{
		narratives: storage_mocks.NewMockNarrativeStore(ctrl),
		embedder:   llm_mocks.NewMockEmbedder(ctrl),
		store:      vectorstore_mocks.NewMockVectorStore(ctrl),
	}
	p := NewPipeline(m.narratives, m.embedder, m.store, cfg)
	p.newToken = func() string { return "tok" }
	return p, m
}

func narrative(id, text string) *storage.StagingNarrative {
	return &storage.StagingNarrative{
		CaseID:          id,
		CatalogItemID:   "item-" + id,
		CatalogPath:     "IT > " + id,
		NarrativeText:   text,
		ProcessingState: storage.StatePending,
	}
}

func TestNewPipeline(t *testing.T) {
	p, _ := newMockPipeline(t, Config{Model: "m"})

	if p.cfg.Lease != 5*time.Minute {
		t.Errorf("NewPipeline() lease = %v, want default 5m", p.cfg.Lease)
	}
	if p.limiter == nil {
		t.Fatal("NewPipeline() limiter should not be nil")
	}
	if p.vectors != nil {
		t.Error("NewPipeline() vector counter should be nil without option")
	}
}

func TestPipeline_ProcessBatch_FailingRecordDoesNotAbortBatch(t *testing.T) {
	p, m := newMockPipeline(t, Config{Model: "embed-v1"})
	ctx := context.Background()

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 3, 5*time.Minute).Return([]*storage.StagingNarrative{
		narrative("A", "vpn drops every hour"),
		narrative("B", "printer jams on tray two"),
		narrative("C", "password reset loop"),
	}, nil)

	m.embedder.EXPECT().Embed(gomock.Any(), "vpn drops every hour").Return([]float32{1, 0}, nil)
	m.embedder.EXPECT().Embed(gomock.Any(), "printer jams on tray two").
		Return(nil, fmt.Errorf("provider rejected input: %w", llm.ErrEmbeddingFatal))
	m.embedder.EXPECT().Embed(gomock.Any(), "password reset loop").Return([]float32{0, 1}, nil)

	m.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e vectorstore.Entry) error {
		assert.Equal(t, "embed-v1", e.Model)
		assert.Equal(t, "item-"+e.CaseID, e.CatalogItemID)
		assert.Equal(t, "IT > "+e.CaseID, e.CatalogPath)
		return nil
	}).Times(2)

	m.narratives.EXPECT().MarkDone(gomock.Any(), "A", "tok").Return(nil)
	m.narratives.EXPECT().MarkError(gomock.Any(), "B", "tok", gomock.Any()).Return(nil)
	m.narratives.EXPECT().MarkDone(gomock.Any(), "C", "tok").Return(nil)
	m.narratives.EXPECT().Counts(gomock.Any()).Return(storage.NarrativeCounts{Pending: 7}, nil)

	res, err := p.ProcessBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 3, Processed: 2, Errored: 1, Remaining: 7}, res)
}

func TestPipeline_ProcessBatch_EmptyAfterNormalization(t *testing.T) {
	p, m := newMockPipeline(t, Config{})

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 10, gomock.Any()).
		Return([]*storage.StagingNarrative{narrative("E", "<p> \n\t </p>")}, nil)
	m.narratives.EXPECT().MarkError(gomock.Any(), "E", "tok", "narrative is empty after normalization").Return(nil)
	m.narratives.EXPECT().Counts(gomock.Any()).Return(storage.NarrativeCounts{}, nil)

	res, err := p.ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errored)
	assert.Zero(t, res.Processed)
}

func TestPipeline_ProcessBatch_UpsertFailureMarksError(t *testing.T) {
	p, m := newMockPipeline(t, Config{})

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 1, gomock.Any()).
		Return([]*storage.StagingNarrative{narrative("A", "disk full")}, nil)
	m.embedder.EXPECT().Embed(gomock.Any(), "disk full").Return([]float32{1, 2, 3}, nil)
	m.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(storage.ErrDimensionMismatch)
	m.narratives.EXPECT().MarkError(gomock.Any(), "A", "tok", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _, reason string) error {
			assert.Contains(t, reason, "persistence error on case A")
			return nil
		})
	m.narratives.EXPECT().Counts(gomock.Any()).Return(storage.NarrativeCounts{}, nil)

	res, err := p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errored)
}

func TestPipeline_ProcessBatch_ClaimLost(t *testing.T) {
	p, m := newMockPipeline(t, Config{})

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 1, gomock.Any()).
		Return([]*storage.StagingNarrative{narrative("A", "slow worker")}, nil)
	m.embedder.EXPECT().Embed(gomock.Any(), "slow worker").Return([]float32{1}, nil)
	m.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	m.narratives.EXPECT().MarkDone(gomock.Any(), "A", "tok").
		Return(fmt.Errorf("narrative A: %w", storage.ErrClaimLost))
	m.narratives.EXPECT().Counts(gomock.Any()).Return(storage.NarrativeCounts{}, nil)

	res, err := p.ProcessBatch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Claimed: 1}, res)
}

func TestPipeline_ProcessBatch_CancelReleasesRemaining(t *testing.T) {
	p, m := newMockPipeline(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 3, gomock.Any()).Return([]*storage.StagingNarrative{
		narrative("A", "first"),
		narrative("B", "second"),
		narrative("C", "third"),
	}, nil)
	m.embedder.EXPECT().Embed(gomock.Any(), "first").Return([]float32{1}, nil)
	m.store.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	m.narratives.EXPECT().MarkDone(gomock.Any(), "A", "tok").Return(nil)
	m.embedder.EXPECT().Embed(gomock.Any(), "second").DoAndReturn(func(ctx context.Context, _ string) ([]float32, error) {
		cancel()
		return nil, ctx.Err()
	})
	m.narratives.EXPECT().Release(gomock.Any(), "tok", []string{"B", "C"}).
		DoAndReturn(func(ctx context.Context, _ string, ids []string) (int, error) {
			assert.NoError(t, ctx.Err(), "release must run on a live context")
			return len(ids), nil
		})
	m.narratives.EXPECT().Counts(gomock.Any()).Return(storage.NarrativeCounts{Pending: 2}, nil)

	res, err := p.ProcessBatch(ctx, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BatchResult{Claimed: 3, Processed: 1, Released: 2, Remaining: 2}, res)
}

func TestPipeline_ProcessBatch_Validation(t *testing.T) {
	p, _ := newMockPipeline(t, Config{})

	for _, size := range []int{0, -3} {
		_, err := p.ProcessBatch(context.Background(), size)
		assert.ErrorIs(t, err, service.ErrInvalidInput, "batch size %d", size)
	}
}

func TestPipeline_ProcessBatch_NothingToClaim(t *testing.T) {
	p, m := newMockPipeline(t, Config{})

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 5, gomock.Any()).Return(nil, nil)
	m.narratives.EXPECT().Counts(gomock.Any()).Return(storage.NarrativeCounts{}, nil)

	res, err := p.ProcessBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
}

func TestPipeline_ProcessBatch_ClaimFailure(t *testing.T) {
	p, m := newMockPipeline(t, Config{})

	m.narratives.EXPECT().Claim(gomock.Any(), "tok", 5, gomock.Any()).Return(nil, errors.New("database is locked"))

	_, err := p.ProcessBatch(context.Background(), 5)
	assert.ErrorContains(t, err, "database is locked")
	assert.NotErrorIs(t, err, service.ErrTimeout)
}

func TestPipeline_ResetErrors(t *testing.T) {
	p, m := newMockPipeline(t, Config{})

	m.narratives.EXPECT().ResetErrors(gomock.Any(), []string{"A", "B"}).Return(2, nil)
	n, err := p.ResetErrors(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m.narratives.EXPECT().ResetErrors(gomock.Any(), gomock.Nil()).Return(0, errors.New("boom"))
	_, err = p.ResetErrors(context.Background(), nil)
	assert.ErrorContains(t, err, "boom")
}

// countingEmbedder derives a vector from the text and records every call.
type countingEmbedder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[text]++
	return []float32{float32(len(text)), 1, float32(e.calls[text])}, nil
}

func newSQLitePipeline(t *testing.T, n int) (*Pipeline, *storage.NarrativeRepo, *storage.KnowledgeRepo, *countingEmbedder) {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	require.NoError(t, storage.Migrate(db))

	staged := make([]*storage.StagingNarrative, 0, n)
	for i := 0; i < n; i++ {
		staged = append(staged, narrative(fmt.Sprintf("CASE-%03d", i), fmt.Sprintf("user reports issue number %d", i)))
	}
	narratives := storage.NewNarrativeRepo(db)
	_, err = narratives.Import(context.Background(), staged)
	require.NoError(t, err)

	rows := storage.NewKnowledgeRepo(db)
	embedder := &countingEmbedder{calls: make(map[string]int)}
	p := NewPipeline(narratives, embedder, vectorstore.NewStore(rows, vectorstore.NewHNSWIndex(), 3),
		Config{Model: "fake"}, WithVectorCounter(rows))
	return p, narratives, rows, embedder
}

func TestPipeline_Drain_NoDoubleProcessing(t *testing.T) {
	p, _, rows, embedder := newSQLitePipeline(t, 60)
	ctx := context.Background()

	res, err := p.Drain(ctx, 6, 4)
	require.NoError(t, err)
	assert.Equal(t, 60, res.Claimed)
	assert.Equal(t, 60, res.Processed)
	assert.Zero(t, res.Errored)
	assert.Zero(t, res.Remaining)
	assert.GreaterOrEqual(t, res.Batches, 15)

	require.Len(t, embedder.calls, 60)
	for text, calls := range embedder.calls {
		assert.Equal(t, 1, calls, "narrative %q embedded more than once", text)
	}

	count, err := rows.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, count)

	// A second drain finds nothing to do.
	res, err = p.Drain(ctx, 2, 4)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Zero(t, res.Batches)
}

func TestPipeline_Drain_Validation(t *testing.T) {
	p, _, _, _ := newSQLitePipeline(t, 0)

	_, err := p.Drain(context.Background(), 0, 5)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	_, err = p.Drain(context.Background(), 2, 0)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestPipeline_Drain_Canceled(t *testing.T) {
	p, narratives, _, _ := newSQLitePipeline(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Drain(ctx, 2, 5)
	assert.ErrorIs(t, err, service.ErrTimeout)
	assert.Zero(t, res.Processed)

	counts, err := narratives.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Pending)
	assert.Zero(t, counts.InFlight, "no lease may survive a canceled drain")
}

// rejectingIndex is an HNSW index whose Add fails for one case id.
type rejectingIndex struct {
	*vectorstore.HNSWIndex
	reject string
}

func (r *rejectingIndex) Add(ctx context.Context, points ...vectorstore.Point) error {
	for _, p := range points {
		if p.CaseID == r.reject {
			return errors.New("index write failed")
		}
	}
	return r.HNSWIndex.Add(ctx, points...)
}

func TestPipeline_ProcessBatch_IndexFailureLeavesNoVectorRow(t *testing.T) {
	db, err := storage.New(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	require.NoError(t, storage.Migrate(db))
	ctx := context.Background()

	narratives := storage.NewNarrativeRepo(db)
	_, err = narratives.Import(ctx, []*storage.StagingNarrative{
		narrative("A", "printer jams on tray two"),
		narrative("B", "vpn drops after an hour"),
		narrative("C", "mailbox is full"),
	})
	require.NoError(t, err)

	rows := storage.NewKnowledgeRepo(db)
	store := vectorstore.NewStore(rows, &rejectingIndex{HNSWIndex: vectorstore.NewHNSWIndex(), reject: "B"}, 3)
	_, err = store.BuildIndex(ctx, vectorstore.MetricCosine, 95)
	require.NoError(t, err)

	p := NewPipeline(narratives, &countingEmbedder{calls: make(map[string]int)}, store, Config{Model: "fake"})
	res, err := p.ProcessBatch(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Claimed)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Errored)

	b, err := narratives.Get(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, storage.StateError, b.ProcessingState)
	assert.Contains(t, b.ErrorMessage, "index write failed")

	_, err = rows.Get(ctx, "B")
	assert.ErrorIs(t, err, storage.ErrNotFound, "errored record must not keep a vector row")

	count, err := rows.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
