package capture

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
)

var (
	// ErrTargetClosed is the precondition failure for a closed or missing handle
	ErrTargetClosed = errors.New("capture target is closed")
	// ErrEmptyArtifact marks a capture that reported success but left a zero-byte file
	ErrEmptyArtifact = errors.New("capture produced an empty artifact")
	// ErrMissingArtifact marks a capture that reported success but left no file
	ErrMissingArtifact = errors.New("capture produced no artifact")
	// ErrAttemptsExhausted is wrapped by CaptureWithRetry when every attempt failed
	ErrAttemptsExhausted = errors.New("capture attempts exhausted")
)

// Config tunes retry and backoff behaviour
type Config struct {
	MaxAttempts        int
	BackoffMin         time.Duration // non-critical: delay = attempt * [min, max)
	BackoffMax         time.Duration
	CriticalBackoffMin time.Duration // critical: delay = attempt * [min, max)
	CriticalBackoffMax time.Duration
	Timeout            time.Duration // per attempt
	EmergencyQuality   int
}

// DefaultConfig returns the production tuning: UI paint settles in tens to
// low hundreds of milliseconds, so backoff is linear in the attempt number.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:        3,
		BackoffMin:         100 * time.Millisecond,
		BackoffMax:         200 * time.Millisecond,
		CriticalBackoffMin: 200 * time.Millisecond,
		CriticalBackoffMax: 300 * time.Millisecond,
		Timeout:            10 * time.Second,
		EmergencyQuality:   50,
	}
}

// ConfigFrom converts the [capture] section of the runner configuration
func ConfigFrom(c common.CaptureConfig) Config {
	def := DefaultConfig()
	cfg := Config{
		MaxAttempts:        c.MaxAttempts,
		BackoffMin:         common.ParseDurationOr(c.BackoffMin, def.BackoffMin),
		BackoffMax:         common.ParseDurationOr(c.BackoffMax, def.BackoffMax),
		CriticalBackoffMin: common.ParseDurationOr(c.CriticalBackoffMin, def.CriticalBackoffMin),
		CriticalBackoffMax: common.ParseDurationOr(c.CriticalBackoffMax, def.CriticalBackoffMax),
		Timeout:            common.ParseDurationOr(c.ScreenshotTimeout, def.Timeout),
		EmergencyQuality:   c.EmergencyQuality,
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.EmergencyQuality <= 0 || cfg.EmergencyQuality > 100 {
		cfg.EmergencyQuality = def.EmergencyQuality
	}
	return cfg
}

// Job describes one artifact capture for CaptureWithRetry
type Job struct {
	Name string
	// Path is verified to exist and be non-empty after a successful Action.
	// Empty skips verification.
	Path string
	// Precondition runs before each attempt (e.g. "handle is not closed")
	Precondition func() error
	// Action performs one attempt; attempt is 1-based
	Action func(ctx context.Context, attempt int) error
	// Emergency is a degraded capture tried once when a critical job fails its final attempt
	Emergency   func(ctx context.Context) error
	MaxAttempts int
	Critical    bool
}

// Result describes a successful capture
type Result struct {
	Path      string
	Attempts  int
	Emergency bool
}

// Capturer runs artifact captures with bounded retries, linear backoff,
// artifact verification and emergency/force fallbacks
type Capturer struct {
	config Config
	logger arbor.ILogger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(n int64) int64
}

// NewCapturer creates a Capturer
func NewCapturer(config Config, logger arbor.ILogger) *Capturer {
	return &Capturer{
		config: config,
		logger: logger,
		sleep:  common.SleepContext,
		jitter: rand.Int64N,
	}
}

// CaptureWithRetry attempts job.Action up to MaxAttempts times.
// A failed precondition on a non-final attempt backs off and retries; on the final
// attempt a critical job escalates to job.Emergency, a non-critical job fails.
// A successful Action whose artifact is missing or empty counts as a failure.
func (c *Capturer) CaptureWithRetry(ctx context.Context, job Job) (*Result, error) {
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.config.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if job.Action == nil {
		return nil, fmt.Errorf("%s: capture job has no action", job.Name)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: capture cancelled: %w", job.Name, err)
		}
		final := attempt == maxAttempts

		if job.Precondition != nil {
			if err := job.Precondition(); err != nil {
				lastErr = err
				if !final {
					c.logger.Debug().
						Err(err).
						Str("artifact", job.Name).
						Int("attempt", attempt).
						Msg("Capture precondition failed - retrying")
					if err := c.backoff(ctx, attempt, job.Critical); err != nil {
						return nil, fmt.Errorf("%s: capture cancelled: %w", job.Name, err)
					}
					continue
				}
				if job.Critical && job.Emergency != nil {
					return c.emergency(ctx, job, attempt, err)
				}
				return nil, fmt.Errorf("%s: precondition failed on final attempt %d: %w", job.Name, attempt, err)
			}
		}

		err := job.Action(ctx, attempt)
		if err == nil {
			err = VerifyArtifact(job.Path)
		}
		if err == nil {
			if attempt > 1 {
				c.logger.Debug().
					Str("artifact", job.Name).
					Int("attempt", attempt).
					Msg("Capture succeeded after retry")
			}
			return &Result{Path: job.Path, Attempts: attempt}, nil
		}

		lastErr = err
		c.logger.Debug().
			Err(err).
			Str("artifact", job.Name).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Bool("critical", job.Critical).
			Msg("Capture attempt failed")

		if !final {
			if err := c.backoff(ctx, attempt, job.Critical); err != nil {
				return nil, fmt.Errorf("%s: capture cancelled: %w", job.Name, err)
			}
		}
	}

	if job.Critical && job.Emergency != nil {
		return c.emergency(ctx, job, maxAttempts, lastErr)
	}

	return nil, fmt.Errorf("%s: %w after %d attempts: %v", job.Name, ErrAttemptsExhausted, maxAttempts, lastErr)
}

func (c *Capturer) emergency(ctx context.Context, job Job, attempts int, cause error) (*Result, error) {
	c.logger.Warn().
		Err(cause).
		Str("artifact", job.Name).
		Msg("Critical capture failed - trying emergency capture")

	err := job.Emergency(ctx)
	if err == nil {
		err = VerifyArtifact(job.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: emergency capture failed (%v) after: %w", job.Name, err, errors.Join(ErrAttemptsExhausted, cause))
	}

	return &Result{Path: job.Path, Attempts: attempts, Emergency: true}, nil
}

// Screenshot captures target into path with retries.
// Normal attempts take a full-page capture; the emergency capture of a critical
// job is viewport-only at reduced quality.
func (c *Capturer) Screenshot(ctx context.Context, target interfaces.CaptureTarget, path string, critical bool) (*Result, error) {
	job := Job{
		Name:     path,
		Path:     path,
		Critical: critical,
		Precondition: func() error {
			if target == nil || target.IsClosed() {
				return ErrTargetClosed
			}
			return nil
		},
		Action: func(ctx context.Context, attempt int) error {
			return c.shoot(ctx, target, path, interfaces.ScreenshotOptions{
				FullPage: true,
				Quality:  100,
				Timeout:  c.config.Timeout,
			})
		},
		Emergency: func(ctx context.Context) error {
			if target == nil {
				return ErrTargetClosed
			}
			return c.shoot(ctx, target, path, interfaces.ScreenshotOptions{
				FullPage: false,
				Quality:  c.config.EmergencyQuality,
				Timeout:  c.config.Timeout,
			})
		},
	}
	return c.CaptureWithRetry(ctx, job)
}

// shoot runs one screenshot call under its own timeout, clearing any stale file first
func (c *Capturer) shoot(ctx context.Context, target interfaces.CaptureTarget, path string, opts interfaces.ScreenshotOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	_ = os.Remove(path)
	return target.Screenshot(ctx, path, opts)
}

// BackoffDelay returns the wait after a failed attempt: attempt * a random
// value in the critical or non-critical window
func (c *Capturer) BackoffDelay(attempt int, critical bool) time.Duration {
	lo, hi := c.config.BackoffMin, c.config.BackoffMax
	if critical {
		lo, hi = c.config.CriticalBackoffMin, c.config.CriticalBackoffMax
	}
	base := lo
	if span := int64(hi - lo); span > 0 {
		base += time.Duration(c.jitter(span))
	}
	return time.Duration(attempt) * base
}

func (c *Capturer) backoff(ctx context.Context, attempt int, critical bool) error {
	return c.sleep(ctx, c.BackoffDelay(attempt, critical))
}

// VerifyArtifact checks that path exists and is non-empty. Empty files are removed
// so the next attempt starts clean. An empty path is not checked.
func VerifyArtifact(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissingArtifact, path)
		}
		return fmt.Errorf("failed to stat artifact %s: %w", path, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s", ErrEmptyArtifact, path)
	}
	return nil
}
