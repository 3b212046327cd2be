package capture

import (
	"context"
	"time"

	"github.com/ternarybob/payrun/internal/interfaces"
)

// Strategy is one way of taking a screenshot, tried in order by ForceCapture
type Strategy struct {
	Name    string
	Options interfaces.ScreenshotOptions
}

// Strategies returns the force-capture ladder: full page, viewport, then a
// low-quality quick grab with a short timeout
func (c *Capturer) Strategies() []Strategy {
	quick := c.config.Timeout / 3
	if quick < time.Second {
		quick = c.config.Timeout
	}
	return []Strategy{
		{Name: "full-page", Options: interfaces.ScreenshotOptions{FullPage: true, Quality: 100, Timeout: c.config.Timeout}},
		{Name: "viewport", Options: interfaces.ScreenshotOptions{FullPage: false, Quality: 100, Timeout: c.config.Timeout}},
		{Name: "quick", Options: interfaces.ScreenshotOptions{FullPage: false, Quality: c.config.EmergencyQuality, Timeout: quick}},
	}
}

// ForceCapture is the mandatory-artifact path: every live handle is tried with
// every strategy until one produces a non-empty file. Exhaustion returns false
// and is logged; it never panics or aborts the caller.
func (c *Capturer) ForceCapture(ctx context.Context, targets []interfaces.CaptureTarget, path string) bool {
	strategies := c.Strategies()
	tried := 0

	for i, target := range targets {
		if target == nil || target.IsClosed() {
			c.logger.Debug().Int("handle", i).Str("path", path).Msg("Force capture skipping closed handle")
			continue
		}
		for _, strategy := range strategies {
			if ctx.Err() != nil {
				c.logger.Warn().Err(ctx.Err()).Str("path", path).Msg("Force capture cancelled")
				return false
			}
			tried++

			err := c.shoot(ctx, target, path, strategy.Options)
			if err == nil {
				err = VerifyArtifact(path)
			}
			if err == nil {
				c.logger.Info().
					Int("handle", i).
					Str("strategy", strategy.Name).
					Str("path", path).
					Str("url", target.URL()).
					Msg("Force capture succeeded")
				return true
			}

			c.logger.Debug().
				Err(err).
				Int("handle", i).
				Str("strategy", strategy.Name).
				Msg("Force capture strategy failed")
		}
	}

	c.logger.Error().
		Int("handles", len(targets)).
		Int("attempts", tried).
		Str("path", path).
		Msg("Force capture exhausted every handle and strategy")
	return false
}

// Targets converts pages to capture targets, preserving order
func Targets(pages []interfaces.Page) []interfaces.CaptureTarget {
	targets := make([]interfaces.CaptureTarget, 0, len(pages))
	for _, p := range pages {
		if p != nil {
			targets = append(targets, p)
		}
	}
	return targets
}
