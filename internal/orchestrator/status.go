package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/payrun/internal/flow"
	"github.com/ternarybob/payrun/internal/models"
)

// PanicError carries a panic recovered from a test case's flow
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Classify maps a flow error to the terminal status of a test case and a
// one-line reason for the report
func Classify(err error) (status string, reason string) {
	if err == nil {
		return models.StatusOK, ""
	}
	reason = err.Error()

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return models.StatusPanic, reason
	}
	if errors.Is(err, context.Canceled) {
		return models.StatusCancelled, reason
	}
	if errors.Is(err, flow.ErrAssertion) {
		return models.StatusAssertion, reason
	}

	var stepErr *flow.StepError
	if errors.As(err, &stepErr) {
		switch stepErr.Action {
		case models.StepNavigate:
			return models.StatusNavigation, reason
		case models.StepWait, models.StepClick, models.StepFill:
			return models.StatusElement, reason
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.StatusTimeout, reason
	}
	return models.StatusFailed, reason
}
