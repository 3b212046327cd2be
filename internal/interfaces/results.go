package interfaces

import (
	"context"

	"github.com/ternarybob/payrun/internal/models"
)

// ResultStorage - interface for report row persistence
type ResultStorage interface {
	SaveResult(ctx context.Context, result *models.TaskResult) error
	GetResult(ctx context.Context, key string) (*models.TaskResult, error)
	ListByRun(ctx context.Context, runID string) ([]*models.TaskResult, error)
	ListByTestCase(ctx context.Context, testCaseID string, limit int) ([]*models.TaskResult, error)
	DeleteRun(ctx context.Context, category, runID string) error
	Close() error
}
