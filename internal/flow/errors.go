package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrAssertion marks an evaluate step whose result did not match Expect
	ErrAssertion = errors.New("assertion failed")
	// ErrUnknownAction is returned for a step action the runner does not implement
	ErrUnknownAction = errors.New("unknown step action")
	// ErrNoPage is returned when the driver has no primary page
	ErrNoPage = errors.New("driver has no page")
)

// StepError reports the step that stopped a flow
type StepError struct {
	Index    int // 1-based
	Action   string
	Selector string
	Err      error
}

func (e *StepError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("step %d (%s %s): %v", e.Index, e.Action, e.Selector, e.Err)
	}
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
