package interfaces

import (
	"context"
	"time"
)

// ScreenshotOptions controls one screenshot call on a Page
type ScreenshotOptions struct {
	FullPage bool          // Capture the full scrollable page rather than the viewport
	Quality  int           // 1-100 for .jpg/.jpeg paths; PNG paths are always lossless
	Timeout  time.Duration // Upper bound for this call (0 = caller's context only)
}

// WaitOptions controls WaitForSelector
type WaitOptions struct {
	Timeout time.Duration
	Visible bool
}

// CaptureTarget is the narrow capability surface screenshots need.
// Every call is fallible and must respect ctx.
type CaptureTarget interface {
	Screenshot(ctx context.Context, path string, opts ScreenshotOptions) error
	IsClosed() bool
	URL() string
}

// Page is one automation handle (a browser tab or popup) driving the remote target
type Page interface {
	CaptureTarget
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, out interface{}) error
	WaitForSelector(ctx context.Context, selector string, opts WaitOptions) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
}

// Driver is the automation context one test case owns exclusively for its lifetime
type Driver interface {
	// Primary returns the main page of the context
	Primary() Page
	// Pages returns every live handle, primary first (popups, 3DS windows)
	Pages(ctx context.Context) []Page
	// ConsoleErrors drains exceptions reported by the page since the last call
	ConsoleErrors() []string
	Close() error
}

// DriverFactory creates one isolated Driver per test case
type DriverFactory interface {
	NewDriver(ctx context.Context) (Driver, error)
	Close() error
}
