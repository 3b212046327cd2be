package models

import "time"

// Terminal status strings of a test case
const (
	StatusOK         = "OK"
	StatusFailed     = "FAILED"
	StatusTimeout    = "TIMEOUT"
	StatusNavigation = "NAVIGATION_ERROR"
	StatusElement    = "ELEMENT_NOT_FOUND"
	StatusAssertion  = "ASSERTION_FAILED"
	StatusCancelled  = "CANCELLED"
	StatusPanic      = "PANIC"
)

// TaskResult is the report row produced for one test case.
// Passed/Status is the functional outcome; the artifact fields are an independent signal.
type TaskResult struct {
	Key         string        `json:"key" badgerhold:"key"`
	TestCaseID  string        `json:"test_case_id" badgerhold:"index"`
	RunID       string        `json:"run_id" badgerhold:"index"`
	Category    string        `json:"category"`
	Passed      bool          `json:"passed"`
	Status      string        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Directory   string        `json:"directory"`

	LogFile       string   `json:"log_file,omitempty"`
	Screenshots   []string `json:"screenshots,omitempty"`
	ScreenshotOK  bool     `json:"screenshot_ok"`
	VideoFile     string   `json:"video_file,omitempty"`
	VideoOK       bool     `json:"video_ok"`
	FrameCount    int      `json:"frame_count"`
	CaptureErrors int      `json:"capture_errors"`
}

// StatusString renders the report column: "OK" or "<STATUS>: <reason>"
func (r *TaskResult) StatusString() string {
	if r.Passed || r.Reason == "" {
		return r.Status
	}
	return r.Status + ": " + r.Reason
}
