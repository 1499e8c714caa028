package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/store"
)

// Runs against a real database only when TEST_DATABASE_URL is set.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	s, err := OpenPostgres(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	runID := uuid.NewString()

	batch := sampleBatch()
	for i := range batch.NewProjects {
		batch.NewProjects[i].Name += " " + runID
	}
	batch.Sales = nil

	n, err := s.AppendOpportunities(ctx, runID, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := s.ListOpportunities(ctx, store.ListParams{RunID: runID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	start := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, s.StartRun(ctx, models.Run{ID: runID, Status: models.RunStatusRunning, StartedAt: start}))
	finished := start.Add(time.Second)
	require.NoError(t, s.FinishRun(ctx, models.Run{ID: runID, Status: models.RunStatusCompleted, Saved: 2, StartedAt: start, FinishedAt: &finished}))

	got, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Saved)
	assert.Equal(t, time.Second, got.Duration())

	_, err = s.GetRun(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
