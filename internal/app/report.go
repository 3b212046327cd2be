package app

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/models"
	"github.com/ternarybob/payrun/internal/queue"
)

// ReportFileName is written into every {category}/{run} directory
const ReportFileName = "results.json"

// Report is the aggregate outcome of one run: one row per test case
type Report struct {
	RunID       string               `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt time.Time            `json:"completed_at"`
	Summary     queue.Summary        `json:"summary"`
	Results     []*models.TaskResult `json:"results"`
}

// NewReport builds a report from the pool's results (submission order)
func NewReport(runID string, started, completed time.Time, results []*models.TaskResult) *Report {
	return &Report{
		RunID:       runID,
		StartedAt:   started,
		CompletedAt: completed,
		Summary:     queue.Summarize(results),
		Results:     results,
	}
}

// Passed reports whether every test case passed
func (r *Report) Passed() bool {
	return r.Summary.Total > 0 && r.Summary.Failed == 0
}

// ByCategory splits the report into one report per category, keyed by category
func (r *Report) ByCategory() map[string]*Report {
	grouped := make(map[string][]*models.TaskResult)
	for _, row := range r.Results {
		if row == nil {
			continue
		}
		grouped[row.Category] = append(grouped[row.Category], row)
	}

	out := make(map[string]*Report, len(grouped))
	for category, rows := range grouped {
		out[category] = NewReport(r.RunID, r.StartedAt, r.CompletedAt, rows)
	}
	return out
}

// WriteReports writes {outputDir}/{category}/{run}/results.json for every category
// of the run and returns the written paths, sorted. Write failures are logged.
func WriteReports(outputDir string, r *Report, logger arbor.ILogger) []string {
	var paths []string
	for category, sub := range r.ByCategory() {
		path := filepath.Join(outputDir, category, r.RunID, ReportFileName)
		if err := common.AtomicWriteJSON(path, sub); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to write run report")
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
