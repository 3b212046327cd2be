package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/interfaces"
)

// Factory owns one Chrome process and hands every test case its own browser
// context (separate cookies and storage) with a fresh tab
type Factory struct {
	mu            sync.Mutex
	config        Config
	logger        arbor.ILogger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewFactory creates a factory. Chrome starts on the first NewDriver.
func NewFactory(config Config, logger arbor.ILogger) *Factory {
	return &Factory{
		config: config,
		logger: logger,
	}
}

func (f *Factory) ensureBrowser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx != nil && f.browserCtx.Err() == nil {
		return f.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.config.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	f.allocCancel = allocCancel
	f.browserCtx = browserCtx
	f.browserCancel = browserCancel

	f.logger.Info().
		Bool("headless", f.config.Headless).
		Int("width", f.config.WindowWidth).
		Int("height", f.config.WindowHeight).
		Msg("Chrome started")

	return browserCtx, nil
}

// NewDriver opens an isolated browser context for one test case
func (f *Factory) NewDriver(ctx context.Context) (interfaces.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browserCtx, err := f.ensureBrowser()
	if err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	d := newDriver(tabCtx, cancel, f.config, f.logger)
	return d, nil
}

// Close stops Chrome
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	f.browserCtx = nil
	return nil
}
