package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
	"github.com/ternarybob/payrun/internal/models"
)

func newTestStorage(t *testing.T) *ResultStorage {
	t.Helper()
	logger := arbor.NewNoOpLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "results")})
	require.NoError(t, err)
	s := NewResultStorage(db, logger)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func row(runID, testCaseID string, started time.Time, passed bool) *models.TaskResult {
	status := models.StatusOK
	if !passed {
		status = models.StatusFailed
	}
	return &models.TaskResult{
		Key:        runID + "/" + testCaseID,
		RunID:      runID,
		TestCaseID: testCaseID,
		Category:   "staging-card",
		Passed:     passed,
		Status:     status,
		StartedAt:  started,
		Duration:   3 * time.Second,
	}
}

func TestResultStorageImplementsInterface(t *testing.T) {
	var _ interfaces.ResultStorage = (*ResultStorage)(nil)
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveResult(ctx, row("run-1", "visa", started, true)))

	got, err := s.GetResult(ctx, "run-1/visa")
	require.NoError(t, err)
	assert.Equal(t, "visa", got.TestCaseID)
	assert.True(t, got.Passed)
	assert.Equal(t, 3*time.Second, got.Duration)
	assert.True(t, started.Equal(got.StartedAt))

	// Upsert replaces the row
	updated := row("run-1", "visa", started, false)
	updated.Reason = "card declined"
	require.NoError(t, s.SaveResult(ctx, updated))
	got, err = s.GetResult(ctx, "run-1/visa")
	require.NoError(t, err)
	assert.False(t, got.Passed)
	assert.Equal(t, "card declined", got.Reason)
}

func TestGetResultNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestSaveResultValidation(t *testing.T) {
	s := newTestStorage(t)
	assert.Error(t, s.SaveResult(context.Background(), nil))
	assert.Error(t, s.SaveResult(context.Background(), &models.TaskResult{}))
}

func TestListByRunAndTestCase(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveResult(ctx, row("run-1", "mastercard", base.Add(2*time.Second), true)))
	require.NoError(t, s.SaveResult(ctx, row("run-1", "visa", base, true)))
	require.NoError(t, s.SaveResult(ctx, row("run-2", "visa", base.Add(time.Hour), false)))
	require.NoError(t, s.SaveResult(ctx, row("run-3", "visa", base.Add(2*time.Hour), true)))

	run1, err := s.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, run1, 2)
	assert.Equal(t, "visa", run1[0].TestCaseID)
	assert.Equal(t, "mastercard", run1[1].TestCaseID)

	history, err := s.ListByTestCase(ctx, "visa", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "run-3", history[0].RunID)
	assert.Equal(t, "run-2", history[1].RunID)

	require.NoError(t, s.DeleteRun(ctx, "production-card", "run-1"))
	run1, err = s.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, run1, 2, "other categories are untouched")

	require.NoError(t, s.DeleteRun(ctx, "staging-card", "run-1"))
	run1, err = s.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, run1)
}

func TestResetOnStartup(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "results")}

	db, err := NewBadgerDB(logger, config)
	require.NoError(t, err)
	s := NewResultStorage(db, logger)
	require.NoError(t, s.SaveResult(context.Background(), row("run-1", "visa", time.Now(), true)))
	require.NoError(t, s.Close())

	config.ResetOnStartup = true
	db, err = NewBadgerDB(logger, config)
	require.NoError(t, err)
	s = NewResultStorage(db, logger)
	defer s.Close()

	_, err = s.GetResult(context.Background(), "run-1/visa")
	assert.ErrorIs(t, err, ErrResultNotFound)
}
