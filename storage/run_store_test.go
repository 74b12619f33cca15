package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insights-pipeline/models"
)

func openTestStore(t *testing.T) *SQLiteRunStore {
	t.Helper()
	s, err := OpenSQLiteRunStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunStoreMigrates(t *testing.T) {
	s := openTestStore(t)
	v, err := s.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestRunStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	started := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	run := &models.PipelineRun{
		ID:          "run-1",
		Mode:        models.ModeFull,
		StartedAt:   started,
		CompletedAt: started.Add(time.Minute),
		Status:      models.RunCompleted,
		Stage:       models.StageCompleted,
		Domains: []*models.DomainRecord{
			{Domain: models.DomainCovid, Status: models.DomainSkipped, Reason: "no data"},
			{Domain: models.DomainStock, Status: models.DomainTrained, RowsCollected: 80, RowsCleaned: 80, Model: "stock_prediction"},
		},
	}
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, got.Status)
	require.Len(t, got.Domains, 2)
	assert.Equal(t, "no data", got.Domains[0].Reason)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		run := &models.PipelineRun{
			ID: id, Mode: models.ModeFull, Status: models.RunCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Domains:   []*models.DomainRecord{{Domain: models.DomainStock, Status: models.DomainTrained}},
		}
		require.NoError(t, s.SaveRun(ctx, run))
	}
	// saving again replaces instead of duplicating
	require.NoError(t, s.SaveRun(ctx, &models.PipelineRun{
		ID: "a", Mode: models.ModeFull, Status: models.RunFailed, StartedAt: base,
	}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, 1, runs[0].Trained)
	assert.Equal(t, "a", runs[2].ID)
	assert.Equal(t, models.RunFailed, runs[2].Status)
	assert.Equal(t, 0, runs[2].Domains)
}
