package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.Runner.Concurrency)
	assert.Equal(t, 8, cfg.Retention.Keep)
	assert.Equal(t, "[DEBUG]", cfg.Logging.DebugMarker)
	assert.Equal(t, "test-execution.mp4", cfg.Recording.VideoFileName)
}

func TestLoadFromFilesLayering(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "payrun.toml")
	local := filepath.Join(dir, "local.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[runner]
output_dir = "/srv/results"
concurrency = 6

[recording]
min_duration = "5s"
`), 0644))
	require.NoError(t, os.WriteFile(local, []byte(`
[runner]
concurrency = 2
`), 0644))

	cfg, err := LoadFromFiles(base, "", local)
	require.NoError(t, err)
	assert.Equal(t, "/srv/results", cfg.Runner.OutputDir)
	assert.Equal(t, 2, cfg.Runner.Concurrency, "later files win")
	assert.Equal(t, "5s", cfg.Recording.MinDuration)
	assert.Equal(t, 3, cfg.Capture.MaxAttempts, "untouched sections keep defaults")
}

func TestLoadFromFilesEnvOverrides(t *testing.T) {
	t.Setenv("PAYRUN_OUTPUT_DIR", "/tmp/env-results")
	t.Setenv("PAYRUN_CONCURRENCY", "9")
	t.Setenv("PAYRUN_RECORD_VIDEO", "false")
	t.Setenv("PAYRUN_LOG_LEVEL", "DEBUG")
	t.Setenv("PAYRUN_RETENTION_KEEP", "3")
	t.Setenv("PAYRUN_HEADLESS", "false")
	t.Setenv("PAYRUN_FFMPEG_PATH", "/opt/ffmpeg")

	cfg, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env-results", cfg.Runner.OutputDir)
	assert.Equal(t, 9, cfg.Runner.Concurrency)
	assert.False(t, cfg.Runner.RecordVideo)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Retention.Keep)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/opt/ffmpeg", cfg.Video.FFmpegPath)
}

func TestLoadFromFilesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFiles(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[runner\n"), 0644))
	_, err = LoadFromFiles(broken)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("[runner]\nconcurrency = 0\n"), 0644))
	_, err = LoadFromFiles(invalid)
	assert.Error(t, err)
}

func TestValidateDurationsAndSchedule(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Recording.FrameInterval = "soon"
	assert.ErrorContains(t, cfg.Validate(), "recording.frame_interval")

	cfg = NewDefaultConfig()
	cfg.Retention.Schedule = "every tuesday"
	assert.ErrorContains(t, cfg.Validate(), "retention.schedule")

	cfg = NewDefaultConfig()
	cfg.Retention.Schedule = "*/15 * * * *"
	assert.NoError(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := NewDefaultConfig()
	ApplyFlagOverrides(cfg, "", 0, false)
	assert.Equal(t, "./results", cfg.Runner.OutputDir)
	assert.Equal(t, 4, cfg.Runner.Concurrency)
	assert.True(t, cfg.Runner.RecordVideo)

	ApplyFlagOverrides(cfg, "/out", 12, true)
	assert.Equal(t, "/out", cfg.Runner.OutputDir)
	assert.Equal(t, 12, cfg.Runner.Concurrency)
	assert.False(t, cfg.Runner.RecordVideo)
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, ParseDurationOr("250ms", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("", time.Second))
	assert.Equal(t, time.Second, ParseDurationOr("bogus", time.Second))
}
