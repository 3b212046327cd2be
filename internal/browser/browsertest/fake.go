// Package browsertest provides in-memory Driver and Page implementations for tests
// of code that drives a checkout flow.
package browsertest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/payrun/internal/interfaces"
)

// ErrInjected is returned by actions configured to fail
var ErrInjected = errors.New("injected failure")

// Always makes FailAction fail every call
const Always = -1

// Page is a scripted interfaces.Page. Actions are named navigate, wait, fill,
// click, evaluate and screenshot.
type Page struct {
	mu         sync.Mutex
	url        string
	closed     bool
	failures   map[string]int
	hangs      map[string]bool
	evalResult interface{}
	calls      []string
	shots      int
	onAction   func(action string)
}

// NewPage creates an open page at url
func NewPage(url string) *Page {
	return &Page{
		url:      url,
		failures: make(map[string]int),
		hangs:    make(map[string]bool),
	}
}

// FailAction makes the next times calls of action fail (Always for every call)
func (p *Page) FailAction(action string, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[action] = times
}

// HangAction makes action block until its context is done
func (p *Page) HangAction(action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangs[action] = true
}

// SetEvalResult sets the value Evaluate decodes into its out argument
func (p *Page) SetEvalResult(v interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evalResult = v
}

// OnAction registers a hook called at the start of every action
func (p *Page) OnAction(fn func(action string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAction = fn
}

// Close marks the page closed; every later action fails
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Calls returns the actions performed so far, e.g. "click #pay"
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// ScreenshotCount returns the number of screenshots written
func (p *Page) ScreenshotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

// begin records a call and decides whether it fails
func (p *Page) begin(ctx context.Context, action, detail string) error {
	p.mu.Lock()
	hook := p.onAction
	p.calls = append(p.calls, fmt.Sprintf("%s %s", action, detail))
	closed := p.closed
	hang := p.hangs[action]
	fail := false
	if n := p.failures[action]; n != 0 {
		fail = true
		if n > 0 {
			p.failures[action] = n - 1
		}
	}
	p.mu.Unlock()

	if hook != nil {
		hook(action)
	}
	if closed {
		return errors.New("target closed")
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return fmt.Errorf("%s %s: %w", action, detail, ErrInjected)
	}
	return ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context, path string, opts interfaces.ScreenshotOptions) error {
	if err := p.begin(ctx, "screenshot", path); err != nil {
		return err
	}
	data, err := encodeImage(path, opts.Quality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	p.mu.Lock()
	p.shots++
	p.mu.Unlock()
	return nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.begin(ctx, "navigate", url); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if err := p.begin(ctx, "evaluate", expression); err != nil {
		return err
	}
	p.mu.Lock()
	v := p.evalResult
	p.mu.Unlock()
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, opts interfaces.WaitOptions) error {
	return p.begin(ctx, "wait", selector)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.begin(ctx, "click", selector)
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.begin(ctx, "fill", selector)
}

// Driver is an in-memory interfaces.Driver with one primary page and optional popups
type Driver struct {
	mu            sync.Mutex
	primary       *Page
	popups        []*Page
	consoleErrors []string
	closed        bool
}

// NewDriver creates a driver whose primary page starts at url
func NewDriver(url string) *Driver {
	return &Driver{primary: NewPage(url)}
}

// Page returns the concrete primary page for scripting
func (d *Driver) Page() *Page {
	return d.primary
}

// AddPopup opens another page (a 3DS window, for example)
func (d *Driver) AddPopup(p *Page) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.popups = append(d.popups, p)
}

// AddConsoleError queues a page exception for ConsoleErrors
func (d *Driver) AddConsoleError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consoleErrors = append(d.consoleErrors, msg)
}

// Closed reports whether Close was called
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) Primary() interfaces.Page {
	return d.primary
}

func (d *Driver) Pages(ctx context.Context) []interfaces.Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	pages := []interfaces.Page{d.primary}
	for _, p := range d.popups {
		pages = append(pages, p)
	}
	return pages
}

func (d *Driver) ConsoleErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.consoleErrors
	d.consoleErrors = nil
	return out
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.primary.Close()
	for _, p := range d.popups {
		p.Close()
	}
	return nil
}

// Factory hands out Drivers. Configure optionally scripts each new driver.
type Factory struct {
	mu        sync.Mutex
	drivers   []*Driver
	Err       error
	Configure func(index int, d *Driver)
	closed    bool
}

func (f *Factory) NewDriver(ctx context.Context) (interfaces.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	d := NewDriver("about:blank")
	if f.Configure != nil {
		f.Configure(len(f.drivers), d)
	}
	f.drivers = append(f.drivers, d)
	return d, nil
}

// Drivers returns every driver created so far
func (f *Factory) Drivers() []*Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Driver(nil), f.drivers...)
}

func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// encodeImage renders a small solid image encoded the way a real browser would
// encode a screenshot written to path
func encodeImage(path string, quality int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: 0x20, G: 0x60, B: 0xa0, A: 0xff})

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		if quality <= 0 || quality > 100 {
			quality = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
