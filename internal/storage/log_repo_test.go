package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casematch/internal/llm"
)

func TestSearchLogRepo(t *testing.T) {
	repo := NewSearchLogRepo(newTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.LogSearch(ctx, SearchLogRecord{
		SearchID: "s1", QueryText: "vpn drops", TopK: 5, Latency: 42 * time.Millisecond, ResultCount: 3, CreatedAt: base,
	}))
	require.NoError(t, repo.LogSearch(ctx, SearchLogRecord{
		SearchID: "s2", QueryText: "", TopK: 5, ErrorText: "validation", CreatedAt: base.Add(time.Second),
	}))

	// search ids are unique
	assert.Error(t, repo.LogSearch(ctx, SearchLogRecord{SearchID: "s1", QueryText: "dup"}))

	recent, err := repo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "s2", recent[0].SearchID)
	assert.Equal(t, "validation", recent[0].ErrorText)
	assert.Equal(t, "s1", recent[1].SearchID)
	assert.Equal(t, 42*time.Millisecond, recent[1].Latency)
	assert.Equal(t, 3, recent[1].ResultCount)
	assert.Empty(t, recent[1].ErrorText)
}

func TestEmbeddingCallRepo_ObserveEmbeddingCall(t *testing.T) {
	repo := NewEmbeddingCallRepo(newTestDB(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // the write must survive the caller's cancellation

	repo.ObserveEmbeddingCall(ctx, llm.EmbeddingCall{Model: "m", InputChars: 10, Attempts: 1, Latency: time.Millisecond, Outcome: llm.OutcomeOK})
	repo.ObserveEmbeddingCall(ctx, llm.EmbeddingCall{Model: "m", InputChars: 10, Attempts: 4, Outcome: llm.OutcomeExhausted, StatusCode: 503, Err: errors.New("unavailable")})
	repo.ObserveEmbeddingCall(ctx, llm.EmbeddingCall{Model: "m", Attempts: 4, Outcome: llm.OutcomeExhausted})

	counts, err := repo.CountByOutcome(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{llm.OutcomeOK: 1, llm.OutcomeExhausted: 2}, counts)
}

var _ llm.CallObserver = (*EmbeddingCallRepo)(nil)
