package models

import "time"

// RecordingState is the lifecycle state of a recording session
type RecordingState string

const (
	RecordingUninitialized RecordingState = "uninitialized"
	RecordingCapturing     RecordingState = "capturing"
	RecordingFinalizing    RecordingState = "finalizing"
	RecordingClosed        RecordingState = "closed"
)

// RecordingInfo is returned when a session is created
type RecordingInfo struct {
	ThreadID string `json:"thread_id"`
	VideoDir string `json:"video_dir"`
}

// FrameResult is the outcome of one frame capture
type FrameResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
}

// RecordingStats is a point-in-time view of a session
type RecordingStats struct {
	ThreadID          string         `json:"thread_id"`
	TestCaseID        string         `json:"test_case_id"`
	State             RecordingState `json:"state"`
	FrameCount        int            `json:"frame_count"`
	CaptureErrorCount int            `json:"capture_error_count"`
	StartedAt         time.Time      `json:"started_at"`
	Elapsed           time.Duration  `json:"elapsed"`
	Capturing         bool           `json:"capturing"`
}

// FinalizeResult is the outcome of finalizing a session into a video
type FinalizeResult struct {
	Success          bool          `json:"success"`
	OutputPath       string        `json:"output_path,omitempty"`
	FrameCount       int           `json:"frame_count"`
	SynthesizedCount int           `json:"synthesized_count"`
	ErrorCount       int           `json:"error_count"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
}
