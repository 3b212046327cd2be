package recording

import (
	"time"

	"github.com/ternarybob/payrun/internal/common"
)

// Config holds the recording thresholds. MinDuration and MinFrames are
// empirically chosen and kept tunable.
type Config struct {
	FrameInterval   time.Duration
	MinDuration     time.Duration
	MinFrames       int
	SettleDelay     time.Duration // upper bound on waiting for an in-flight interval capture
	FrameTimeout    time.Duration
	FailureLogEvery int
	FPS             int
	FrameDirName    string
	// PlaceholderWidth/Height size the blank frame synthesized when a session has no frames
	PlaceholderWidth  int
	PlaceholderHeight int
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		FrameInterval:     time.Second,
		MinDuration:       10 * time.Second,
		MinFrames:         3,
		SettleDelay:       500 * time.Millisecond,
		FrameTimeout:      3 * time.Second,
		FailureLogEvery:   5,
		FPS:               2,
		FrameDirName:      "video-frames",
		PlaceholderWidth:  640,
		PlaceholderHeight: 360,
	}
}

// ConfigFrom converts the [recording] section of the runner configuration
func ConfigFrom(c common.RecordingConfig) Config {
	def := DefaultConfig()
	cfg := Config{
		FrameInterval:     common.ParseDurationOr(c.FrameInterval, def.FrameInterval),
		MinDuration:       common.ParseDurationOr(c.MinDuration, def.MinDuration),
		MinFrames:         c.MinFrames,
		SettleDelay:       common.ParseDurationOr(c.SettleDelay, def.SettleDelay),
		FrameTimeout:      common.ParseDurationOr(c.FrameTimeout, def.FrameTimeout),
		FailureLogEvery:   c.FailureLogEvery,
		FPS:               c.FPS,
		FrameDirName:      c.FrameDirName,
		PlaceholderWidth:  def.PlaceholderWidth,
		PlaceholderHeight: def.PlaceholderHeight,
	}
	return cfg.normalized()
}

// normalized replaces unusable zero values with the defaults. Zero MinDuration
// and SettleDelay are valid and kept.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MinFrames <= 0 {
		c.MinFrames = def.MinFrames
	}
	if c.FailureLogEvery <= 0 {
		c.FailureLogEvery = def.FailureLogEvery
	}
	if c.FPS <= 0 {
		c.FPS = def.FPS
	}
	if c.FrameDirName == "" {
		c.FrameDirName = def.FrameDirName
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = def.FrameTimeout
	}
	if c.PlaceholderWidth <= 0 || c.PlaceholderHeight <= 0 {
		c.PlaceholderWidth, c.PlaceholderHeight = def.PlaceholderWidth, def.PlaceholderHeight
	}
	return c
}
