package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStartAndOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := Run{
		ID:             "run-1",
		TaskID:         "task-1",
		Model:          "m",
		TrajectoryPath: "/tmp/task-1.jsonl",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.RecordStart(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.TaskID)
	assert.Empty(t, got.Outcome)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, s.RecordOutcome(ctx, "run-1", "success", 7, 1000, 500, 0.0123))

	got, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "success", got.Outcome)
	assert.Equal(t, 7, got.Turns)
	assert.Equal(t, 1000, got.TokensIn)
	assert.Equal(t, 500, got.TokensOut)
	assert.InDelta(t, 0.0123, got.CostUSD, 1e-9)
	assert.NotNil(t, got.FinishedAt)
}

func TestRecordOutcomeUnknownRun(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordOutcome(context.Background(), "nope", "failure", 0, 0, 0, 0)
	assert.Error(t, err)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.RecordStart(ctx, Run{
			ID:             id,
			TaskID:         "task-" + id,
			Model:          "m",
			TrajectoryPath: "/tmp/" + id,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s1, err := New(path)
	require.NoError(t, err)
	require.NoError(t, s1.RecordStart(context.Background(), Run{
		ID: "r", TaskID: "t", Model: "m", TrajectoryPath: "p", CreatedAt: time.Now(),
	}))
	require.NoError(t, s1.Close())

	// Reopening runs migrations again and keeps the data.
	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetRun(context.Background(), "r")
	require.NoError(t, err)
	assert.Equal(t, "t", got.TaskID)
}
