package browser

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/interfaces"
)

// Driver is one test case's browser context: the primary tab plus any popups
// it opened (3DS challenge windows, wallet sheets)
type Driver struct {
	mu            sync.Mutex
	config        Config
	logger        arbor.ILogger
	primary       *Page
	popups        map[target.ID]*Page
	consoleErrors []string
	closed        bool
}

func newDriver(tabCtx context.Context, cancel context.CancelFunc, config Config, logger arbor.ILogger) *Driver {
	d := &Driver{
		config: config,
		logger: logger,
		popups: make(map[target.ID]*Page),
	}
	d.primary = newPage(tabCtx, cancel, targetID(tabCtx), config)
	d.listen(tabCtx)
	return d
}

func targetID(ctx context.Context) target.ID {
	if c := chromedp.FromContext(ctx); c != nil && c.Target != nil {
		return c.Target.TargetID
	}
	return ""
}

// listen collects uncaught exceptions and console.error calls of one tab
func (d *Driver) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			msg := ev.ExceptionDetails.Text
			if ev.ExceptionDetails.Exception != nil && ev.ExceptionDetails.Exception.Description != "" {
				msg = msg + ": " + ev.ExceptionDetails.Exception.Description
			}
			d.addConsoleError(msg)
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError {
				return
			}
			parts := make([]string, 0, len(ev.Args))
			for _, arg := range ev.Args {
				if arg.Description != "" {
					parts = append(parts, arg.Description)
				} else if len(arg.Value) > 0 {
					parts = append(parts, strings.Trim(string(arg.Value), `"`))
				}
			}
			d.addConsoleError("console.error: " + strings.Join(parts, " "))
		}
	})
}

func (d *Driver) addConsoleError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consoleErrors = append(d.consoleErrors, msg)
}

func (d *Driver) Primary() interfaces.Page {
	return d.primary
}

// Pages returns the primary tab followed by every live popup it opened.
// New popups are attached on discovery; vanished ones are marked closed.
func (d *Driver) Pages(ctx context.Context) []interfaces.Page {
	d.refreshPopups(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	pages := []interfaces.Page{d.primary}
	for _, p := range d.popups {
		if !p.IsClosed() {
			pages = append(pages, p)
		}
	}
	return pages
}

func (d *Driver) refreshPopups(ctx context.Context) {
	if d.primary.IsClosed() {
		return
	}

	var infos []*target.Info
	err := d.primary.run(ctx, chromedp.ActionFunc(func(actx context.Context) error {
		var err error
		infos, err = chromedp.Targets(actx)
		return err
	}))
	if err != nil {
		d.logger.Debug().Err(err).Msg("Failed to list browser targets")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	known := map[target.ID]bool{d.primary.targetID: true}
	for id := range d.popups {
		known[id] = true
	}

	live := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		live[info.TargetID] = true
		if info.Type != "page" || !known[info.OpenerID] {
			continue
		}
		if _, ok := d.popups[info.TargetID]; ok {
			continue
		}
		popupCtx, cancel := chromedp.NewContext(d.primary.ctx, chromedp.WithTargetID(info.TargetID))
		d.popups[info.TargetID] = newPage(popupCtx, cancel, info.TargetID, d.config)
		d.listen(popupCtx)
		d.logger.Debug().Str("url", info.URL).Msg("Attached popup window")
	}

	for id, p := range d.popups {
		if !live[id] {
			p.markClosed()
		}
	}
}

func (d *Driver) consoleErrorsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.consoleErrors...)
}

// ConsoleErrors drains the collected page exceptions
func (d *Driver) ConsoleErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.consoleErrors
	d.consoleErrors = nil
	return out
}

// Close closes every tab and disposes the browser context
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	popups := d.popups
	d.popups = map[target.ID]*Page{}
	d.mu.Unlock()

	for _, p := range popups {
		p.close()
	}
	d.primary.close()
	return nil
}
