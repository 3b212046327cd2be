package browser

import (
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/payrun/internal/common"
)

// Config controls the Chrome instance shared by every test case
type Config struct {
	Headless        bool
	ExecPath        string
	WindowWidth     int
	WindowHeight    int
	NavigateTimeout time.Duration
}

// ConfigFrom converts the [browser] section of the runner configuration
func ConfigFrom(c common.BrowserConfig) Config {
	cfg := Config{
		Headless:        c.Headless,
		ExecPath:        c.ExecPath,
		WindowWidth:     c.WindowWidth,
		WindowHeight:    c.WindowHeight,
		NavigateTimeout: common.ParseDurationOr(c.NavigateTimeout, 60*time.Second),
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	return cfg
}

// allocatorOptions builds the exec allocator flags
func (c Config) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
	)
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	return opts
}
