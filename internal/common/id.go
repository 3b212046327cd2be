package common

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RunIDLayout is the time layout embedded in run directory names
const RunIDLayout = "20060102-150405"

// RunIDPrefix prefixes every run directory name
const RunIDPrefix = "run-"

var (
	threadSequence uint64
	unsafePathRe   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// NewRunID returns a run directory name for the given start time.
// Format: run-YYYYMMDD-HHMMSS-<6 random hex chars>
// The suffix keeps runs started within the same second apart.
func NewRunID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return RunIDPrefix + t.Format(RunIDLayout) + "-" + suffix
}

// ParseRunID extracts the start time from a run directory name
func ParseRunID(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, RunIDPrefix) {
		return time.Time{}, false
	}
	raw := strings.TrimPrefix(name, RunIDPrefix)
	if len(raw) < len(RunIDLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(RunIDLayout, raw[:len(RunIDLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NewThreadID generates a recording session identifier.
// Format: thread_<unix-ms>_<sequence>_<8 random hex chars>
// The random suffix is exactly the last 8 characters, which frame file names embed.
func NewThreadID() string {
	seq := atomic.AddUint64(&threadSequence, 1)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("thread_%d_%d_%s", time.Now().UnixMilli(), seq, suffix)
}

// ShortID returns the last n characters of id (the whole id when shorter)
func ShortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}

// CategoryKey builds the retention partition key {environment}-{paymentType}
func CategoryKey(environment, paymentType string) string {
	return SanitizePathSegment(environment) + "-" + SanitizePathSegment(paymentType)
}

// SanitizePathSegment makes a value safe to use as a single directory name
func SanitizePathSegment(value string) string {
	value = strings.TrimSpace(value)
	value = unsafePathRe.ReplaceAllString(value, "_")
	value = strings.Trim(value, "._")
	if value == "" {
		return "unnamed"
	}
	return value
}
