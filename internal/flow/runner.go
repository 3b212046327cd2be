package flow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/capture"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
	"github.com/ternarybob/payrun/internal/models"
)

// DefaultTimeouts bound one attempt of each action. Navigation and 3DS-style
// waits are slow; element interaction is fast.
var DefaultTimeouts = map[string]time.Duration{
	models.StepNavigate: 60 * time.Second,
	models.StepWait:     30 * time.Second,
	models.StepFill:     10 * time.Second,
	models.StepClick:    10 * time.Second,
	models.StepEvaluate: 15 * time.Second,
	models.StepSleep:    time.Second,
}

// minStepTimeout is the floor applied to configured step timeouts
const minStepTimeout = 5 * time.Second

// Journal receives per-test-case log records. Every call names its owner.
type Journal interface {
	Info(testCaseID, message string, data ...interface{})
	Warning(testCaseID, message string, data ...interface{})
	Error(testCaseID, message string, data ...interface{})
	Success(testCaseID, message string, data ...interface{})
}

// StepResult is the outcome of one step
type StepResult struct {
	Index    int           `json:"index"`
	Action   string        `json:"action"`
	Label    string        `json:"label"`
	Passed   bool          `json:"passed"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Outcome collects what a flow produced, including a partial flow that failed
type Outcome struct {
	Steps         []StepResult
	Screenshots   []string
	CaptureErrors int
}

// Execution identifies the test case a flow runs for
type Execution struct {
	TestCaseID string
	Directory  string
	Driver     interfaces.Driver
}

// Runner executes a test case's steps against its driver
type Runner struct {
	capturer        *capture.Capturer
	journal         Journal
	logger          arbor.ILogger
	navigateTimeout time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner. navigateTimeout overrides the navigate default when positive.
func NewRunner(capturer *capture.Capturer, journal Journal, logger arbor.ILogger, navigateTimeout time.Duration) *Runner {
	return &Runner{
		capturer:        capturer,
		journal:         journal,
		logger:          logger,
		navigateTimeout: navigateTimeout,
		sleep:           common.SleepContext,
	}
}

// Steps returns the steps to run for tc: its own list, or a bare navigation to
// tc.URL when it has none
func Steps(tc models.TestCase) []models.Step {
	if len(tc.Steps) == 0 {
		return []models.Step{{Action: models.StepNavigate, URL: tc.URL}}
	}
	return tc.Steps
}

// Run executes the steps strictly in order; step n+1 starts only after step n
// settles. Driver errors are retried Step.Retries times and then stop the flow
// with a *StepError. Screenshot failures are counted but never stop the flow.
func (r *Runner) Run(ctx context.Context, exec Execution, tc models.TestCase) (*Outcome, error) {
	outcome := &Outcome{}
	page := exec.Driver.Primary()
	if page == nil {
		return outcome, &StepError{Index: 0, Action: models.StepNavigate, Err: ErrNoPage}
	}

	steps := Steps(tc)
	for i, step := range steps {
		index := i + 1
		if step.Action == models.StepNavigate && step.URL == "" {
			step.URL = tc.URL
		}

		r.journal.Info(exec.TestCaseID, fmt.Sprintf("Step %d/%d: %s", index, len(steps), step.Label()))

		started := time.Now()
		attempts, err := r.runStep(ctx, exec, page, step, outcome)
		result := StepResult{
			Index:    index,
			Action:   step.Action,
			Label:    step.Label(),
			Passed:   err == nil,
			Attempts: attempts,
			Elapsed:  time.Since(started),
		}
		if err != nil {
			result.Error = err.Error()
		}
		outcome.Steps = append(outcome.Steps, result)

		if err != nil {
			r.journal.Error(exec.TestCaseID, fmt.Sprintf("Step %d failed: %s", index, step.Label()), err)
			return outcome, &StepError{Index: index, Action: step.Action, Selector: step.Selector, Err: err}
		}
	}

	return outcome, nil
}

// runStep runs one step with its retries. Returns the attempts used.
func (r *Runner) runStep(ctx context.Context, exec Execution, page interfaces.Page, step models.Step, outcome *Outcome) (int, error) {
	switch step.Action {
	case models.StepScreenshot:
		r.screenshot(ctx, exec, page, step, outcome)
		return 1, nil
	case models.StepSleep:
		return 1, r.sleep(ctx, r.sleepDuration(step))
	}

	attempts := 1 + step.Retries
	if attempts < 1 {
		attempts = 1
	}
	timeout := r.timeout(step)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err = r.do(sctx, page, step)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt < attempts {
			r.journal.Warning(exec.TestCaseID, fmt.Sprintf("Retrying %s (attempt %d/%d)", step.Label(), attempt+1, attempts), err)
			if serr := r.sleep(ctx, r.capturer.BackoffDelay(attempt, false)); serr != nil {
				return attempt, serr
			}
		}
	}
	return attempts, err
}

func (r *Runner) do(ctx context.Context, page interfaces.Page, step models.Step) error {
	switch step.Action {
	case models.StepNavigate:
		return page.Navigate(ctx, step.URL)
	case models.StepWait:
		return page.WaitForSelector(ctx, step.Selector, interfaces.WaitOptions{Timeout: r.timeout(step), Visible: true})
	case models.StepFill:
		return page.Fill(ctx, step.Selector, step.Value)
	case models.StepClick:
		return page.Click(ctx, step.Selector)
	case models.StepEvaluate:
		var out interface{}
		if err := page.Evaluate(ctx, step.Value, &out); err != nil {
			return err
		}
		if step.Expect != "" {
			got := fmt.Sprint(out)
			if strings.TrimSpace(got) != step.Expect {
				return fmt.Errorf("%w: expected %q, got %q", ErrAssertion, step.Expect, got)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAction, step.Action)
	}
}

// screenshot writes <directory>/<name>.png through the retrying capture.
// A failure is logged and counted; it never fails the flow.
func (r *Runner) screenshot(ctx context.Context, exec Execution, page interfaces.Page, step models.Step, outcome *Outcome) {
	name := step.Name
	if name == "" {
		name = fmt.Sprintf("step-%d", len(outcome.Steps)+1)
	}
	path := filepath.Join(exec.Directory, common.SanitizePathSegment(name)+".png")

	result, err := r.capturer.Screenshot(ctx, page, path, step.Critical)
	if err != nil {
		outcome.CaptureErrors++
		r.journal.Warning(exec.TestCaseID, fmt.Sprintf("Screenshot %s failed", name), err)
		return
	}

	outcome.Screenshots = append(outcome.Screenshots, path)
	msg := fmt.Sprintf("Screenshot saved: %s", filepath.Base(path))
	if result.Emergency {
		msg += " (emergency capture)"
	}
	r.journal.Success(exec.TestCaseID, msg)
}

func (r *Runner) timeout(step models.Step) time.Duration {
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil && d > 0 {
			if d < minStepTimeout {
				return minStepTimeout
			}
			return d
		}
	}
	if step.Action == models.StepNavigate && r.navigateTimeout > 0 {
		return r.navigateTimeout
	}
	if d, ok := DefaultTimeouts[step.Action]; ok {
		return d
	}
	return minStepTimeout
}

// sleepDuration reads a sleep step's duration from Value, then Timeout
func (r *Runner) sleepDuration(step models.Step) time.Duration {
	for _, raw := range []string{step.Value, step.Timeout} {
		if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
			return d
		}
	}
	return DefaultTimeouts[models.StepSleep]
}
