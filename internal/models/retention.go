package models

import "time"

// RetentionEntry is a read-only snapshot of one historical run directory
type RetentionEntry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// SweepResult summarizes one retention sweep
type SweepResult struct {
	Category   string   `json:"category,omitempty"`
	Deleted    []string `json:"deleted"`
	Kept       []string `json:"kept"`
	Failed     []string `json:"failed,omitempty"`
	BytesFreed int64    `json:"bytes_freed"`
}

// Merge folds another sweep result into r
func (r *SweepResult) Merge(other *SweepResult) {
	if other == nil {
		return
	}
	r.Deleted = append(r.Deleted, other.Deleted...)
	r.Kept = append(r.Kept, other.Kept...)
	r.Failed = append(r.Failed, other.Failed...)
	r.BytesFreed += other.BytesFreed
}
