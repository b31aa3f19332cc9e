package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casematch/internal/service"
)

func TestPipeline_Run_DrainsUntilCanceled(t *testing.T) {
	p, narratives, rows, _ := newSQLitePipeline(t, 12)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, 10*time.Millisecond, 2, 5)
	}()

	require.Eventually(t, func() bool {
		n, err := rows.Count(context.Background())
		return err == nil && n == 12
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	counts, err := narratives.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Pending)
	assert.Equal(t, 12, counts.Done)
}

func TestPipeline_Run_Validation(t *testing.T) {
	p, _, _, _ := newSQLitePipeline(t, 1)

	err := p.Run(context.Background(), 0, 1, 1)
	assert.True(t, errors.Is(err, service.ErrInvalidInput))

	err = p.Run(context.Background(), time.Millisecond, 0, 1)
	assert.True(t, errors.Is(err, service.ErrInvalidInput))
}
