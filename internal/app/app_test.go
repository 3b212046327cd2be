package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/browser/browsertest"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/models"
)

type fileAssembler struct {
	available bool
}

func (a fileAssembler) Assemble(ctx context.Context, frameDir, outputPath string, fps int) error {
	return os.WriteFile(outputPath, []byte("mp4"), 0644)
}

func (a fileAssembler) Available() bool { return a.available }

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	cfg := common.NewDefaultConfig()
	cfg.Runner.OutputDir = t.TempDir()
	cfg.Runner.Concurrency = 2
	cfg.Capture.BackoffMin = "1ms"
	cfg.Capture.BackoffMax = "2ms"
	cfg.Capture.CriticalBackoffMin = "1ms"
	cfg.Capture.CriticalBackoffMax = "2ms"
	cfg.Recording.FrameInterval = "10ms"
	cfg.Recording.MinDuration = "0s"
	cfg.Recording.SettleDelay = "50ms"
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "results")
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *common.Config, factory *browsertest.Factory, available bool) *App {
	t.Helper()
	a, err := New(cfg, arbor.NewNoOpLogger(),
		WithDriverFactory(factory),
		WithAssembler(fileAssembler{available: available}),
	)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local) }
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func checkoutCase(id, paymentType string) models.TestCase {
	return models.TestCase{
		ID:          id,
		Environment: "staging",
		PaymentType: paymentType,
		URL:         "https://checkout.example.test/pay",
		Steps: []models.Step{
			{Action: models.StepNavigate},
			{Action: models.StepFill, Selector: "#card-number", Value: "4111111111111111"},
			{Action: models.StepScreenshot, Name: "form-page-fill"},
			{Action: models.StepClick, Selector: "#pay"},
		},
	}
}

func TestRunWritesReportsAndPersistsRows(t *testing.T) {
	cfg := testConfig(t)
	factory := &browsertest.Factory{
		Configure: func(i int, d *browsertest.Driver) {
			// The second test case fails at the pay button
			if i == 1 {
				d.Page().FailAction("click", browsertest.Always)
			}
		},
	}
	a := newTestApp(t, cfg, factory, true)

	cases := []models.TestCase{checkoutCase("TC-001", "card"), checkoutCase("TC-002", "wallet")}
	report, err := a.Run(context.Background(), cases)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(report.RunID, "run-20260301-100000-"), report.RunID)
	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Summary.Total)
	assert.False(t, report.Passed())

	// Submission order is preserved whichever task finished first
	assert.Equal(t, "TC-001", report.Results[0].TestCaseID)
	assert.Equal(t, "TC-002", report.Results[1].TestCaseID)
	assert.True(t, report.Results[0].Passed)
	assert.True(t, report.Results[0].VideoOK)

	cardReport := filepath.Join(cfg.Runner.OutputDir, "staging-card", report.RunID, ReportFileName)
	walletReport := filepath.Join(cfg.Runner.OutputDir, "staging-wallet", report.RunID, ReportFileName)
	require.FileExists(t, cardReport)
	require.FileExists(t, walletReport)

	data, err := os.ReadFile(walletReport)
	require.NoError(t, err)
	var wallet Report
	require.NoError(t, json.Unmarshal(data, &wallet))
	require.Len(t, wallet.Results, 1)
	assert.Equal(t, "TC-002", wallet.Results[0].TestCaseID)
	assert.Equal(t, 1, wallet.Summary.Failed)

	rows, err := a.Results.ListByRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunDisablesVideoWithoutFFmpeg(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &browsertest.Factory{}, false)

	report, err := a.Run(context.Background(), []models.TestCase{checkoutCase("TC-001", "card")})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	row := report.Results[0]
	assert.True(t, row.Passed, "missing ffmpeg never fails a test case")
	assert.False(t, row.VideoOK)
	assert.NoFileExists(t, filepath.Join(row.Directory, cfg.Recording.VideoFileName))
}

func TestRunHonoursPerCaseRecordOverride(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &browsertest.Factory{}, true)

	off := false
	tc := checkoutCase("TC-001", "card")
	tc.Record = &off

	report, err := a.Run(context.Background(), []models.TestCase{tc})
	require.NoError(t, err)
	assert.False(t, report.Results[0].VideoOK)
}

func TestRunRejectsEmptySuite(t *testing.T) {
	a := newTestApp(t, testConfig(t), &browsertest.Factory{}, true)
	_, err := a.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunWithoutResultsDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Badger.Path = ""
	a := newTestApp(t, cfg, &browsertest.Factory{}, true)
	assert.Nil(t, a.Results)

	report, err := a.Run(context.Background(), []models.TestCase{checkoutCase("TC-001", "card")})
	require.NoError(t, err)
	assert.True(t, report.Passed())
}

func TestSweepDeletesPersistedRowsOfSweptRuns(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.Keep = 1
	a := newTestApp(t, cfg, &browsertest.Factory{}, true)
	ctx := context.Background()

	first, err := a.Run(ctx, []models.TestCase{checkoutCase("TC-001", "card")})
	require.NoError(t, err)

	a.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local) }
	second, err := a.Run(ctx, []models.TestCase{checkoutCase("TC-001", "card")})
	require.NoError(t, err)

	// The post-task sweep removed the first run's directory and its rows
	assert.NoDirExists(t, filepath.Join(cfg.Runner.OutputDir, "staging-card", first.RunID))
	rows, err := a.Results.ListByRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The explicit sweep path removes a stale directory left behind on disk
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Runner.OutputDir, "staging-card", "run-20260101-000000"), 0755))
	result := a.Sweep(ctx)
	require.NotNil(t, result)
	assert.Contains(t, result.Deleted, "staging-card/run-20260101-000000")

	rows, err = a.Results.ListByRun(ctx, second.RunID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
