package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrResultNotFound is returned by GetResult for an unknown key
var ErrResultNotFound = errors.New("result not found")

// ResultStorage persists report rows so runs can be compared over time
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a ResultStorage on an open database
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) *ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

// SaveResult inserts or replaces the row stored under result.Key
func (s *ResultStorage) SaveResult(ctx context.Context, result *models.TaskResult) error {
	if result == nil {
		return errors.New("result is nil")
	}
	if result.Key == "" {
		return errors.New("result key is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.db.Store().Upsert(result.Key, result); err != nil {
		return fmt.Errorf("failed to save result %s: %w", result.Key, err)
	}

	s.logger.Debug().
		Str("key", result.Key).
		Str("status", result.Status).
		Msg("Result saved")
	return nil
}

func (s *ResultStorage) GetResult(ctx context.Context, key string) (*models.TaskResult, error) {
	var result models.TaskResult
	err := s.db.Store().Get(key, &result)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result %s: %w", key, err)
	}
	return &result, nil
}

// ListByRun returns every row of one run, oldest start first
func (s *ResultStorage) ListByRun(ctx context.Context, runID string) ([]*models.TaskResult, error) {
	var results []*models.TaskResult
	query := badgerhold.Where("RunID").Eq(runID).Index("RunID").SortBy("StartedAt")
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list results for run %s: %w", runID, err)
	}
	return results, nil
}

// ListByTestCase returns the history of one test case, newest first
func (s *ResultStorage) ListByTestCase(ctx context.Context, testCaseID string, limit int) ([]*models.TaskResult, error) {
	var results []*models.TaskResult
	query := badgerhold.Where("TestCaseID").Eq(testCaseID).Index("TestCaseID").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list results for test case %s: %w", testCaseID, err)
	}
	return results, nil
}

// DeleteRun removes the rows of one category's run after its directory was swept
func (s *ResultStorage) DeleteRun(ctx context.Context, category, runID string) error {
	query := badgerhold.Where("RunID").Eq(runID).Index("RunID").And("Category").Eq(category)
	if err := s.db.Store().DeleteMatching(&models.TaskResult{}, query); err != nil {
		return fmt.Errorf("failed to delete results for %s/%s: %w", category, runID, err)
	}
	return nil
}

// Close closes the underlying database
func (s *ResultStorage) Close() error {
	return s.db.Close()
}
