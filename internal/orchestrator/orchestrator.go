package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/capture"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/flow"
	"github.com/ternarybob/payrun/internal/interfaces"
	"github.com/ternarybob/payrun/internal/logchannel"
	"github.com/ternarybob/payrun/internal/models"
	"github.com/ternarybob/payrun/internal/recording"
	"github.com/ternarybob/payrun/internal/retention"
)

// Artifact names written into every test case directory
const (
	SuccessScreenshotName = "success-pay-page"
	ErrorScreenshotName   = "error-ocurred"
)

// Task is one test case scheduled within a run
type Task struct {
	TestCase    models.TestCase
	RunID       string
	OutputDir   string
	RecordVideo bool
}

// Category is the retention partition key {environment}-{paymentType}
func (t Task) Category() string {
	return common.CategoryKey(t.TestCase.Environment, t.TestCase.PaymentType)
}

// RunDir is {output}/{category}/{run}
func (t Task) RunDir() string {
	return filepath.Join(t.OutputDir, t.Category(), t.RunID)
}

// Directory is {output}/{category}/{run}/{testCaseId}
func (t Task) Directory() string {
	return filepath.Join(t.RunDir(), common.SanitizePathSegment(t.TestCase.ID))
}

// Config tunes the orchestrator
type Config struct {
	RetentionKeep int
	FrameInterval time.Duration
	VideoFileName string
	// CleanupTimeout bounds the mandatory screenshot and recording finalize, which
	// still run after the task's own context is cancelled
	CleanupTimeout time.Duration
}

// Dependencies are the shared registries and collaborators every task uses
type Dependencies struct {
	Logs     *logchannel.Store
	Recorder *recording.Manager
	Capturer *capture.Capturer
	Runner   *flow.Runner
	Sweeper  *retention.Sweeper
	Results  interfaces.ResultStorage // optional
	Drivers  interfaces.DriverFactory
}

// Orchestrator runs one test case end to end: log channel, recording, scripted
// flow, mandatory artifacts, then an unconditional finish sequence.
type Orchestrator struct {
	deps   Dependencies
	config Config
	logger arbor.ILogger
	sweeps sync.WaitGroup
	now    func() time.Time
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(deps Dependencies, config Config, logger arbor.ILogger) *Orchestrator {
	if config.VideoFileName == "" {
		config.VideoFileName = "test-execution.mp4"
	}
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = 2 * time.Minute
	}
	o := &Orchestrator{
		deps:   deps,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	// Rows of a swept run go with its directory, whichever sweep removed it
	if deps.Sweeper != nil && deps.Results != nil {
		deps.Sweeper.OnDeleted(o.dropRunResults)
	}
	return o
}

// taskState is what one Run accumulates; owned by that Run only
type taskState struct {
	task     Task
	id       string
	dir      string
	driver   interfaces.Driver
	threadID string
	outcome  *flow.Outcome
	flowErr  error
	result   *models.TaskResult
	logger   arbor.ILogger // process logger correlated to the test case
}

// Run executes task and always returns its report row. Flow failures are
// classified into the result; they never escape. Artifact failures are logged
// and reported separately from pass/fail.
func (o *Orchestrator) Run(ctx context.Context, task Task) (result *models.TaskResult) {
	st := &taskState{
		task:   task,
		id:     task.TestCase.ID,
		dir:    task.Directory(),
		logger: o.logger.WithCorrelationId(task.TestCase.ID),
		result: &models.TaskResult{
			Key:        task.RunID + "/" + task.TestCase.ID,
			TestCaseID: task.TestCase.ID,
			RunID:      task.RunID,
			Category:   task.Category(),
			StartedAt:  o.now(),
			Directory:  task.Directory(),
		},
	}

	result = st.result

	o.deps.Sweeper.Protect(task.RunDir())
	defer o.finish(ctx, st)

	o.start(st)
	if st.flowErr != nil {
		return result
	}

	driver, err := o.deps.Drivers.NewDriver(ctx)
	if err != nil {
		st.flowErr = fmt.Errorf("failed to start browser: %w", err)
		o.deps.Logs.Error(st.id, "Browser could not be started", err)
		return result
	}
	st.driver = driver

	if task.RecordVideo {
		o.startRecording(ctx, st)
	}

	o.runFlow(ctx, st)

	if st.flowErr == nil {
		o.successScreenshot(ctx, st)
	} else {
		o.errorScreenshot(ctx, st)
	}
	return result
}

// Wait blocks until every retention sweep scheduled by Run has finished
func (o *Orchestrator) Wait() {
	o.sweeps.Wait()
}

func (o *Orchestrator) start(st *taskState) {
	if err := os.MkdirAll(st.dir, 0755); err != nil {
		st.flowErr = fmt.Errorf("failed to create test case directory: %w", err)
	}

	o.deps.Logs.Initialize(st.id, st.dir)
	if st.flowErr != nil {
		o.deps.Logs.Error(st.id, "Output directory unavailable", st.flowErr)
		return
	}

	tc := st.task.TestCase
	if tc.Description != "" {
		o.deps.Logs.Info(st.id, tc.Description)
	}
	o.deps.Logs.Data(st.id, "Test case parameters", map[string]interface{}{
		"environment":  tc.Environment,
		"payment_type": tc.PaymentType,
		"url":          tc.URL,
		"category":     st.result.Category,
		"run_id":       st.task.RunID,
		"record_video": st.task.RecordVideo,
		"steps":        len(flow.Steps(tc)),
	})
}

func (o *Orchestrator) startRecording(ctx context.Context, st *taskState) {
	driver := st.driver
	handles := func(ctx context.Context) []interfaces.CaptureTarget {
		return capture.Targets(driver.Pages(ctx))
	}

	info, err := o.deps.Recorder.InitializeRecording(st.id, st.dir, handles)
	if err != nil {
		o.deps.Logs.Warning(st.id, "Video recording unavailable", err)
		return
	}
	st.threadID = info.ThreadID

	// One frame before the interval so an instant failure still has footage
	if frame, err := o.deps.Recorder.CaptureFrame(ctx, info.ThreadID); err != nil || !frame.Success {
		o.deps.Logs.Warning(st.id, "Initial video frame could not be captured")
	}

	if err := o.deps.Recorder.StartInterval(ctx, info.ThreadID, o.config.FrameInterval); err != nil {
		o.deps.Logs.Warning(st.id, "Video frame interval could not be started", err)
		return
	}
	o.deps.Logs.Info(st.id, "Video recording started", map[string]string{"thread_id": info.ThreadID})
}

func (o *Orchestrator) runFlow(ctx context.Context, st *taskState) {
	defer func() {
		if r := recover(); r != nil {
			st.flowErr = &PanicError{Value: r}
			st.logger.Error().
				Str("test_case", st.id).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in test case flow")
		}
	}()

	outcome, err := o.deps.Runner.Run(ctx, flow.Execution{
		TestCaseID: st.id,
		Directory:  st.dir,
		Driver:     st.driver,
	}, st.task.TestCase)
	st.outcome = outcome
	st.flowErr = err
}

// successScreenshot is mandatory: when the primary tab cannot be captured, every
// live handle and strategy is tried
func (o *Orchestrator) successScreenshot(ctx context.Context, st *taskState) {
	path := filepath.Join(st.dir, SuccessScreenshotName+".png")
	_, err := o.deps.Capturer.Screenshot(ctx, st.driver.Primary(), path, true)
	if err == nil {
		o.addScreenshot(st, path)
		o.deps.Logs.Success(st.id, "Success screenshot saved: "+filepath.Base(path))
		return
	}
	o.deps.Logs.Warning(st.id, "Success screenshot failed on the primary page, trying every open page", err)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CleanupTimeout)
	defer cancel()
	if o.deps.Capturer.ForceCapture(cctx, capture.Targets(st.driver.Pages(cctx)), path) {
		o.addScreenshot(st, path)
		o.deps.Logs.Success(st.id, "Success screenshot saved: "+filepath.Base(path))
		return
	}
	o.captureFailed(st)
	o.deps.Logs.Warning(st.id, "Success screenshot could not be captured by any strategy")
}

// errorScreenshot is mandatory: every live handle and strategy is tried, even
// when the task's context is already cancelled
func (o *Orchestrator) errorScreenshot(ctx context.Context, st *taskState) {
	o.deps.Logs.Error(st.id, "Test case flow failed", st.flowErr)

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CleanupTimeout)
	defer cancel()

	path := filepath.Join(st.dir, ErrorScreenshotName+".png")
	targets := capture.Targets(st.driver.Pages(cctx))
	if o.deps.Capturer.ForceCapture(cctx, targets, path) {
		o.addScreenshot(st, path)
		o.deps.Logs.Info(st.id, "Error screenshot saved: "+filepath.Base(path))
		return
	}
	o.captureFailed(st)
	o.deps.Logs.Warning(st.id, "Error screenshot could not be captured by any strategy")
}

func (o *Orchestrator) addScreenshot(st *taskState, path string) {
	st.result.Screenshots = append(st.result.Screenshots, path)
}

func (o *Orchestrator) captureFailed(st *taskState) {
	st.result.CaptureErrors++
}

// finish runs the unconditional tail: finalize recording, close the browser,
// classify, flush logs, save the row, schedule the sweep, clear the channel.
// Each step is guarded so one failure never skips the next.
func (o *Orchestrator) finish(ctx context.Context, st *taskState) {
	if r := recover(); r != nil {
		st.flowErr = &PanicError{Value: r}
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CleanupTimeout)
	defer cancel()

	o.guard(st, "console errors", func() { o.drainConsole(st) })
	o.guard(st, "recording finalize", func() { o.finalizeRecording(cctx, st) })
	o.guard(st, "browser close", func() {
		if st.driver != nil {
			if err := st.driver.Close(); err != nil {
				o.deps.Logs.Warning(st.id, "Browser did not close cleanly", err)
			}
		}
	})
	o.guard(st, "classify", func() { o.complete(st) })
	o.guard(st, "log flush", func() {
		st.result.LogFile = o.deps.Logs.Flush(st.id, "")
	})
	o.guard(st, "result save", func() {
		if o.deps.Results == nil {
			return
		}
		if err := o.deps.Results.SaveResult(cctx, st.result); err != nil {
			st.logger.Warn().Err(err).Str("test_case", st.id).Msg("Failed to save result row")
		}
	})
	o.guard(st, "retention", func() {
		o.deps.Sweeper.Release(st.task.RunDir())
		o.scheduleSweep(st.task)
	})
	o.guard(st, "log clear", func() { o.deps.Logs.Clear(st.id) })
}

func (o *Orchestrator) guard(st *taskState, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			st.logger.Error().
				Str("test_case", st.id).
				Str("step", step).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in test case cleanup")
		}
	}()
	fn()
}

func (o *Orchestrator) drainConsole(st *taskState) {
	if st.driver == nil {
		return
	}
	for _, msg := range st.driver.ConsoleErrors() {
		o.deps.Logs.Warning(st.id, "Page exception", msg)
	}
}

func (o *Orchestrator) finalizeRecording(ctx context.Context, st *taskState) {
	if st.threadID == "" {
		return
	}

	output := filepath.Join(st.dir, o.config.VideoFileName)
	res, err := o.deps.Recorder.Finalize(ctx, st.threadID, output)
	if err != nil {
		o.deps.Recorder.Cleanup(st.threadID)
		o.deps.Logs.Warning(st.id, "Video recording could not be finalized", err)
		return
	}

	st.result.FrameCount = res.FrameCount
	st.result.CaptureErrors += res.ErrorCount
	if !res.Success {
		o.deps.Logs.Warning(st.id, "Video assembly failed", res.Error)
		return
	}
	st.result.VideoOK = true
	st.result.VideoFile = res.OutputPath
	o.deps.Logs.Success(st.id, "Video saved: "+filepath.Base(res.OutputPath), map[string]interface{}{
		"frames":         res.FrameCount,
		"synthesized":    res.SynthesizedCount,
		"capture_errors": res.ErrorCount,
		"duration":       res.Duration.String(),
	})
}

// complete fills the pass/fail fields and writes the closing summary records
func (o *Orchestrator) complete(st *taskState) {
	r := st.result
	r.Status, r.Reason = Classify(st.flowErr)
	r.Passed = st.flowErr == nil
	r.CompletedAt = o.now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)

	if st.outcome != nil {
		r.Screenshots = append(append([]string(nil), st.outcome.Screenshots...), r.Screenshots...)
		r.CaptureErrors += st.outcome.CaptureErrors
		o.deps.Logs.Data(st.id, "Step results", st.outcome.Steps)
	}
	r.ScreenshotOK = len(r.Screenshots) > 0

	o.deps.Logs.Separator(st.id)
	if r.Passed {
		o.deps.Logs.Success(st.id, "RESULT: "+r.StatusString())
	} else {
		o.deps.Logs.Error(st.id, "RESULT: "+r.StatusString())
	}

	st.logger.Info().
		Str("test_case", st.id).
		Str("status", r.Status).
		Dur("duration", r.Duration).
		Bool("video", r.VideoOK).
		Int("screenshots", len(r.Screenshots)).
		Msg("Test case finished")
}

func (o *Orchestrator) dropRunResults(category, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.CleanupTimeout)
	defer cancel()
	if err := o.deps.Results.DeleteRun(ctx, category, runID); err != nil {
		o.logger.Warn().
			Err(err).
			Str("category", category).
			Str("run_id", runID).
			Msg("Failed to delete results of swept run")
		return
	}
	o.logger.Debug().Str("category", category).Str("run_id", runID).Msg("Deleted results of swept run")
}

func (o *Orchestrator) scheduleSweep(task Task) {
	if o.config.RetentionKeep < 1 {
		return
	}
	category := task.Category()
	o.sweeps.Add(1)
	common.SafeGo(o.logger, "retention-"+category, func() {
		defer o.sweeps.Done()
		if _, err := o.deps.Sweeper.Sweep(category, task.OutputDir, o.config.RetentionKeep); err != nil {
			o.logger.Warn().Err(err).Str("category", category).Msg("Retention sweep failed")
		}
	})
}
