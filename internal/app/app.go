package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/browser"
	"github.com/ternarybob/payrun/internal/capture"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/flow"
	"github.com/ternarybob/payrun/internal/interfaces"
	"github.com/ternarybob/payrun/internal/logchannel"
	"github.com/ternarybob/payrun/internal/models"
	"github.com/ternarybob/payrun/internal/orchestrator"
	"github.com/ternarybob/payrun/internal/queue"
	"github.com/ternarybob/payrun/internal/recording"
	"github.com/ternarybob/payrun/internal/retention"
	"github.com/ternarybob/payrun/internal/storage"
	"github.com/ternarybob/payrun/internal/storage/badger"
	"github.com/ternarybob/payrun/internal/video"
)

// App holds all runner components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Shared registries
	Logs     *logchannel.Store
	Recorder *recording.Manager
	Sweeper  *retention.Sweeper

	// Collaborators
	Capturer  *capture.Capturer
	Assembler interfaces.Assembler
	Drivers   interfaces.DriverFactory
	Runner    *flow.Runner
	Results   *badger.ResultStorage // nil when persistence is disabled

	// Execution
	Orchestrator *orchestrator.Orchestrator
	Pool         *queue.Pool
	Scheduler    *retention.Scheduler

	now func() time.Time
}

// Option customizes New
type Option func(*App)

// WithDriverFactory replaces the chromedp driver factory
func WithDriverFactory(f interfaces.DriverFactory) Option {
	return func(a *App) { a.Drivers = f }
}

// WithAssembler replaces the ffmpeg assembler
func WithAssembler(asm interfaces.Assembler) Option {
	return func(a *App) { a.Assembler = asm }
}

// New initializes the runner with all dependencies
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initServices()
	common.SetCrashContext(app.describeInFlight)

	logger.Info().
		Str("output_dir", cfg.Runner.OutputDir).
		Int("concurrency", cfg.Runner.Concurrency).
		Bool("record_video", cfg.Runner.RecordVideo).
		Int("retention_keep", cfg.Retention.Keep).
		Bool("results_db", app.Results != nil).
		Msg("Runner initialization complete")

	return app, nil
}

// initDatabase opens the results database (Badger)
func (a *App) initDatabase() error {
	results, err := storage.NewResultStorage(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.Results = results
	return nil
}

// initServices builds the registries and the execution stack. Order matters:
// the orchestrator needs every registry, the pool needs the orchestrator.
func (a *App) initServices() {
	cfg := a.Config

	a.Logs = logchannel.NewStore(a.Logger, cfg.Logging.DebugMarker)
	a.Sweeper = retention.NewSweeper(a.Logger)
	a.Capturer = capture.NewCapturer(capture.ConfigFrom(cfg.Capture), a.Logger)

	if a.Assembler == nil {
		a.Assembler = video.NewFFmpegAssembler(video.ConfigFrom(cfg.Video), a.Logger)
	}
	recordingConfig := recording.ConfigFrom(cfg.Recording)
	a.Recorder = recording.NewManager(recordingConfig, a.Assembler, a.Logger)

	browserConfig := browser.ConfigFrom(cfg.Browser)
	if a.Drivers == nil {
		a.Drivers = browser.NewFactory(browserConfig, a.Logger)
	}
	a.Runner = flow.NewRunner(a.Capturer, a.Logs, a.Logger, browserConfig.NavigateTimeout)

	deps := orchestrator.Dependencies{
		Logs:     a.Logs,
		Recorder: a.Recorder,
		Capturer: a.Capturer,
		Runner:   a.Runner,
		Sweeper:  a.Sweeper,
		Drivers:  a.Drivers,
	}
	// A nil *ResultStorage in the interface would not compare equal to nil
	if a.Results != nil {
		deps.Results = a.Results
	}
	a.Orchestrator = orchestrator.NewOrchestrator(deps, orchestrator.Config{
		RetentionKeep: cfg.Retention.Keep,
		FrameInterval: recordingConfig.FrameInterval,
		VideoFileName: cfg.Recording.VideoFileName,
	}, a.Logger)

	a.Pool = queue.NewPool(a.Orchestrator, queue.Config{
		Concurrency:  cfg.Runner.Concurrency,
		DispatchRate: cfg.Runner.DispatchRate,
	}, a.Logger)

	a.Scheduler = retention.NewScheduler(a.Sweeper, cfg.Runner.OutputDir, cfg.Retention.Keep, a.Logger)
}

// Run executes every test case of one run and writes its report.
// Failed test cases are reported in the returned report, not as an error.
func (a *App) Run(ctx context.Context, cases []models.TestCase) (*Report, error) {
	if len(cases) == 0 {
		return nil, errors.New("no test cases to run")
	}

	started := a.now()
	runID := common.NewRunID(started)
	record := a.recordingEnabled()

	tasks := make([]orchestrator.Task, len(cases))
	for i, tc := range cases {
		tasks[i] = orchestrator.Task{
			TestCase:    tc,
			RunID:       runID,
			OutputDir:   a.Config.Runner.OutputDir,
			RecordVideo: record,
		}
		if tc.Record != nil {
			tasks[i].RecordVideo = record && *tc.Record
		}
	}

	a.Logger.Info().
		Str("run_id", runID).
		Int("test_cases", len(tasks)).
		Int("concurrency", a.Config.Runner.Concurrency).
		Msg("Starting run")

	results := a.Pool.Run(ctx, tasks)

	// Post-task sweeps are fire-and-forget; the run is over only once they settle
	a.Orchestrator.Wait()

	report := NewReport(runID, started, a.now(), results)
	queue.LogSummary(a.Logger, report.Summary)

	for _, path := range WriteReports(a.Config.Runner.OutputDir, report, a.Logger) {
		a.Logger.Info().Str("path", path).Msg("Run report written")
	}

	return report, nil
}

// recordingEnabled turns video off for the run when ffmpeg cannot be found,
// so no frames are captured for a video that could never be assembled
func (a *App) recordingEnabled() bool {
	if !a.Config.Runner.RecordVideo {
		return false
	}
	if checker, ok := a.Assembler.(interface{ Available() bool }); ok && !checker.Available() {
		a.Logger.Warn().
			Str("ffmpeg_path", a.Config.Video.FFmpegPath).
			Msg("ffmpeg not found - videos disabled for this run")
		return false
	}
	return true
}

// StartScheduler starts periodic retention sweeps when retention.schedule is set
func (a *App) StartScheduler() error {
	if a.Config.Retention.Schedule == "" {
		return nil
	}
	return a.Scheduler.Start(a.Config.Retention.Schedule)
}

// Sweep applies retention to every category now. Persisted rows of deleted
// runs are dropped by the sweeper's deletion hook.
func (a *App) Sweep(ctx context.Context) *models.SweepResult {
	if err := ctx.Err(); err != nil {
		return nil
	}
	return a.Scheduler.RunNow()
}

// describeInFlight lists live log channels and recording sessions for crash reports
func (a *App) describeInFlight() string {
	var b strings.Builder
	for _, id := range a.Logs.Active() {
		fmt.Fprintf(&b, "log channel: %s\n", id)
	}
	for _, st := range a.Recorder.ListActive() {
		fmt.Fprintf(&b, "recording: %s test_case=%s state=%s frames=%d errors=%d\n",
			st.ThreadID, st.TestCaseID, st.State, st.FrameCount, st.CaptureErrorCount)
	}
	if b.Len() == 0 {
		return "none"
	}
	return b.String()
}

// Close releases all runner resources
func (a *App) Close() error {
	if a.Scheduler != nil && a.Config.Retention.Schedule != "" {
		a.Scheduler.Stop()
	}

	if a.Recorder != nil {
		a.Recorder.Shutdown()
	}

	if a.Drivers != nil {
		if err := a.Drivers.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser")
		}
	}

	if a.Results != nil {
		if err := a.Results.Close(); err != nil {
			return fmt.Errorf("failed to close results database: %w", err)
		}
		a.Logger.Info().Msg("Results database closed")
	}

	return nil
}
