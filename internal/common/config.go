package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the runner configuration
type Config struct {
	Runner    RunnerConfig    `toml:"runner"`
	Capture   CaptureConfig   `toml:"capture"`
	Recording RecordingConfig `toml:"recording"`
	Video     VideoConfig     `toml:"video"`
	Retention RetentionConfig `toml:"retention"`
	Logging   LoggingConfig   `toml:"logging"`
	Browser   BrowserConfig   `toml:"browser"`
	Storage   StorageConfig   `toml:"storage"`
}

type RunnerConfig struct {
	OutputDir    string  `toml:"output_dir" validate:"required"`      // Base directory for {category}/{run}/{test case} bundles
	Concurrency  int     `toml:"concurrency" validate:"min=1,max=64"` // Number of test cases executed in parallel
	DispatchRate float64 `toml:"dispatch_rate" validate:"min=0"`      // Max task starts per second (0 = unlimited)
	RecordVideo  bool    `toml:"record_video"`                        // Record a frame-capture video for each test case
	CasesFile    string  `toml:"cases_file"`                          // Test case catalogue (TOML)
}

type CaptureConfig struct {
	MaxAttempts        int    `toml:"max_attempts" validate:"min=1,max=10"`
	BackoffMin         string `toml:"backoff_min"`          // Non-critical backoff window lower bound, scaled by attempt
	BackoffMax         string `toml:"backoff_max"`          // Non-critical backoff window upper bound, scaled by attempt
	CriticalBackoffMin string `toml:"critical_backoff_min"` // Critical backoff window lower bound, scaled by attempt
	CriticalBackoffMax string `toml:"critical_backoff_max"` // Critical backoff window upper bound, scaled by attempt
	ScreenshotTimeout  string `toml:"screenshot_timeout"`   // Timeout for one screenshot attempt
	EmergencyQuality   int    `toml:"emergency_quality" validate:"min=1,max=100"`
}

type RecordingConfig struct {
	FrameInterval   string `toml:"frame_interval"`                      // Period between frame captures
	MinDuration     string `toml:"min_duration"`                        // Floor on session duration before finalize proceeds
	MinFrames       int    `toml:"min_frames" validate:"min=1"`         // Frames synthesized up to this count when short
	SettleDelay     string `toml:"settle_delay"`                        // Grace period for an in-flight capture after the interval stops
	FrameTimeout    string `toml:"frame_timeout"`                       // Timeout for one frame screenshot
	FailureLogEvery int    `toml:"failure_log_every" validate:"min=1"`  // Emit a diagnostic every N consecutive failures
	FPS             int    `toml:"fps" validate:"min=1,max=60"`         // Output frame rate handed to the assembler
	VideoFileName   string `toml:"video_file_name" validate:"required"` // Name of the assembled file in the test case dir
	FrameDirName    string `toml:"frame_dir_name" validate:"required"`  // Name of the shared frame directory in the test case dir
}

type VideoConfig struct {
	FFmpegPath string   `toml:"ffmpeg_path"` // ffmpeg binary (resolved on PATH when not absolute)
	Codec      string   `toml:"codec"`
	PixFmt     string   `toml:"pix_fmt"`
	ExtraArgs  []string `toml:"extra_args"`
	Timeout    string   `toml:"timeout"` // Upper bound on one assembly
}

type RetentionConfig struct {
	Keep     int    `toml:"keep" validate:"min=1"` // Run directories kept per category
	Schedule string `toml:"schedule"`              // Optional cron schedule for periodic sweeps
}

type LoggingConfig struct {
	Level       string   `toml:"level" validate:"oneof=trace debug info warn error"` // "debug", "info", "warn", "error"
	Output      []string `toml:"output"`                                             // "stdout", "file"
	Dir         string   `toml:"dir"`                                                // Directory for the process log file
	DebugMarker string   `toml:"debug_marker"`                                       // Channel lines containing this marker stay console-only
}

type BrowserConfig struct {
	Headless        bool   `toml:"headless"`
	ExecPath        string `toml:"exec_path"`
	WindowWidth     int    `toml:"window_width" validate:"min=320"`
	WindowHeight    int    `toml:"window_height" validate:"min=240"`
	NavigateTimeout string `toml:"navigate_timeout"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path ("" disables persistence)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean runs
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Runner: RunnerConfig{
			OutputDir:   "./results",
			Concurrency: 4,
			RecordVideo: true,
			CasesFile:   "cases.toml",
		},
		Capture: CaptureConfig{
			MaxAttempts:        3,
			BackoffMin:         "100ms",
			BackoffMax:         "200ms",
			CriticalBackoffMin: "200ms",
			CriticalBackoffMax: "300ms",
			ScreenshotTimeout:  "10s",
			EmergencyQuality:   50,
		},
		Recording: RecordingConfig{
			FrameInterval:   "1s",
			MinDuration:     "10s",
			MinFrames:       3,
			SettleDelay:     "500ms",
			FrameTimeout:    "3s",
			FailureLogEvery: 5,
			FPS:             2,
			VideoFileName:   "test-execution.mp4",
			FrameDirName:    "video-frames",
		},
		Video: VideoConfig{
			FFmpegPath: "ffmpeg",
			Codec:      "libx264",
			PixFmt:     "yuv420p",
			Timeout:    "2m",
		},
		Retention: RetentionConfig{
			Keep: 8,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Output:      []string{"stdout"},
			Dir:         "./logs",
			DebugMarker: "[DEBUG]",
		},
		Browser: BrowserConfig{
			Headless:        true,
			WindowWidth:     1920,
			WindowHeight:    1080,
			NavigateTimeout: "60s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/results",
			},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if dir := os.Getenv("PAYRUN_OUTPUT_DIR"); dir != "" {
		config.Runner.OutputDir = dir
	}
	if concurrency := os.Getenv("PAYRUN_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Runner.Concurrency = c
		}
	}
	if record := os.Getenv("PAYRUN_RECORD_VIDEO"); record != "" {
		if r, err := strconv.ParseBool(record); err == nil {
			config.Runner.RecordVideo = r
		}
	}
	if level := os.Getenv("PAYRUN_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}
	if ffmpeg := os.Getenv("PAYRUN_FFMPEG_PATH"); ffmpeg != "" {
		config.Video.FFmpegPath = ffmpeg
	}
	if keep := os.Getenv("PAYRUN_RETENTION_KEEP"); keep != "" {
		if k, err := strconv.Atoi(keep); err == nil {
			config.Retention.Keep = k
		}
	}
	if headless := os.Getenv("PAYRUN_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority).
// Zero values leave the loaded configuration untouched.
func ApplyFlagOverrides(config *Config, outputDir string, concurrency int, noVideo bool) {
	if outputDir != "" {
		config.Runner.OutputDir = outputDir
	}
	if concurrency > 0 {
		config.Runner.Concurrency = concurrency
	}
	if noVideo {
		config.Runner.RecordVideo = false
	}
}

// Validate checks struct tags and the duration/schedule strings the tags cannot express
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"capture.backoff_min":          c.Capture.BackoffMin,
		"capture.backoff_max":          c.Capture.BackoffMax,
		"capture.critical_backoff_min": c.Capture.CriticalBackoffMin,
		"capture.critical_backoff_max": c.Capture.CriticalBackoffMax,
		"capture.screenshot_timeout":   c.Capture.ScreenshotTimeout,
		"recording.frame_interval":     c.Recording.FrameInterval,
		"recording.min_duration":       c.Recording.MinDuration,
		"recording.settle_delay":       c.Recording.SettleDelay,
		"recording.frame_timeout":      c.Recording.FrameTimeout,
		"video.timeout":                c.Video.Timeout,
		"browser.navigate_timeout":     c.Browser.NavigateTimeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s=%q is not a duration: %w", key, value, err)
		}
	}

	if c.Retention.Schedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid configuration: retention.schedule=%q: %w", c.Retention.Schedule, err)
		}
	}

	return nil
}

// ParseDurationOr parses a duration string, returning def when empty or invalid
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
