package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
)

// urlLookupTimeout bounds the Location call behind URL()
const urlLookupTimeout = 2 * time.Second

// Page is one Chrome tab driven through chromedp
type Page struct {
	ctx      context.Context // chromedp tab context; cancelling it closes the tab
	cancel   context.CancelFunc
	targetID target.ID
	config   Config
	closed   atomic.Bool

	mu      sync.Mutex
	lastURL string
}

func newPage(ctx context.Context, cancel context.CancelFunc, id target.ID, config Config) *Page {
	return &Page{ctx: ctx, cancel: cancel, targetID: id, config: config}
}

// run executes actions on this tab, bounded by the caller's ctx
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.IsClosed() {
		return errors.New("page is closed")
	}

	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%v: %w", err, ctx.Err())
	}
	return err
}

// Screenshot writes an image whose encoding follows the extension of path:
// .jpg/.jpeg is JPEG at opts.Quality, anything else is lossless PNG.
func (p *Page) Screenshot(ctx context.Context, path string, opts interfaces.ScreenshotOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	format, quality := screenshotFormat(path, opts.Quality)

	var buf []byte
	var action chromedp.Action
	switch {
	case opts.FullPage && format == page.CaptureScreenshotFormatPng:
		action = chromedp.FullScreenshot(&buf, 100)
	case opts.FullPage:
		// FullScreenshot encodes JPEG only below 100
		action = chromedp.FullScreenshot(&buf, min(quality, 99))
	default:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			params := page.CaptureScreenshot().WithFormat(format)
			if format == page.CaptureScreenshotFormatJpeg {
				params = params.WithQuality(int64(quality))
			}
			var err error
			buf, err = params.Do(ctx)
			return err
		})
	}

	if err := p.run(ctx, action); err != nil {
		return err
	}
	if len(buf) == 0 {
		return errors.New("screenshot returned no data")
	}
	return common.AtomicWriteFile(path, buf)
}

// screenshotFormat picks the CDP encoding for path. Quality only applies to JPEG.
func screenshotFormat(path string, quality int) (page.CaptureScreenshotFormat, int) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		if quality <= 0 || quality > 100 {
			quality = 100
		}
		return page.CaptureScreenshotFormatJpeg, quality
	default:
		return page.CaptureScreenshotFormatPng, 100
	}
}

func (p *Page) IsClosed() bool {
	return p.closed.Load() || p.ctx.Err() != nil
}

// URL returns the current location, or the last known one when the tab does not answer
func (p *Page) URL() string {
	if !p.IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), urlLookupTimeout)
		defer cancel()
		var location string
		if err := p.run(ctx, chromedp.Location(&location)); err == nil {
			p.setURL(location)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastURL
}

func (p *Page) setURL(url string) {
	p.mu.Lock()
	p.lastURL = url
	p.mu.Unlock()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if _, ok := ctx.Deadline(); !ok && p.config.NavigateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.NavigateTimeout)
		defer cancel()
	}
	if err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return err
	}
	p.setURL(url)
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return p.run(ctx, chromedp.Evaluate(expression, out))
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, opts interfaces.WaitOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Visible {
		return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	}
	return p.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *Page) markClosed() {
	p.closed.Store(true)
}

func (p *Page) close() {
	p.closed.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
}
