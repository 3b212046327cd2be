package browser

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
)

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(common.BrowserConfig{
		Headless:        true,
		WindowWidth:     1280,
		WindowHeight:    720,
		NavigateTimeout: "15s",
	})
	assert.True(t, cfg.Headless)
	assert.Equal(t, 1280, cfg.WindowWidth)
	assert.Equal(t, 720, cfg.WindowHeight)
	assert.Equal(t, 15*time.Second, cfg.NavigateTimeout)
}

func TestConfigFromDefaults(t *testing.T) {
	cfg := ConfigFrom(common.BrowserConfig{NavigateTimeout: "not-a-duration"})
	assert.Equal(t, 1920, cfg.WindowWidth)
	assert.Equal(t, 1080, cfg.WindowHeight)
	assert.Equal(t, 60*time.Second, cfg.NavigateTimeout)
}

func TestAllocatorOptions(t *testing.T) {
	base := Config{WindowWidth: 800, WindowHeight: 600}.allocatorOptions()
	withExec := Config{WindowWidth: 800, WindowHeight: 600, ExecPath: "/usr/bin/chromium"}.allocatorOptions()
	assert.Len(t, withExec, len(base)+1)
}

func TestScreenshotFormatFollowsExtension(t *testing.T) {
	tests := []struct {
		path        string
		quality     int
		wantFormat  page.CaptureScreenshotFormat
		wantQuality int
	}{
		{"frame_000001_ab12cd34.png", 80, page.CaptureScreenshotFormatPng, 100},
		{"error-ocurred.png", 50, page.CaptureScreenshotFormatPng, 100},
		{"shot.PNG", 0, page.CaptureScreenshotFormatPng, 100},
		{"shot.jpg", 50, page.CaptureScreenshotFormatJpeg, 50},
		{"shot.JPEG", 0, page.CaptureScreenshotFormatJpeg, 100},
		{"no-extension", 30, page.CaptureScreenshotFormatPng, 100},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			format, quality := screenshotFormat(tt.path, tt.quality)
			assert.Equal(t, tt.wantFormat, format)
			assert.Equal(t, tt.wantQuality, quality)
		})
	}
}

func TestDriverInterfaces(t *testing.T) {
	var _ interfaces.DriverFactory = (*Factory)(nil)
	var _ interfaces.Driver = (*Driver)(nil)
	var _ interfaces.Page = (*Page)(nil)
}

// requireChrome skips unless browser tests are enabled with PAYRUN_BROWSER_TESTS=1
func requireChrome(t *testing.T) *Factory {
	t.Helper()
	if os.Getenv("PAYRUN_BROWSER_TESTS") != "1" {
		t.Skip("set PAYRUN_BROWSER_TESTS=1 to run tests against a local Chrome")
	}
	f := NewFactory(Config{
		Headless:        true,
		ExecPath:        os.Getenv("PAYRUN_CHROME_PATH"),
		WindowWidth:     1024,
		WindowHeight:    768,
		NavigateTimeout: 30 * time.Second,
	}, arbor.NewNoOpLogger())
	t.Cleanup(func() { _ = f.Close() })
	return f
}

const checkoutPage = `<!DOCTYPE html>
<html><body>
<form id="checkout">
  <input id="card" type="text">
  <button id="pay" type="button" onclick="document.getElementById('status').textContent = 'paid:' + document.getElementById('card').value">Pay</button>
</form>
<div id="status">pending</div>
<script>setTimeout(function () { throw new Error("widget failed") }, 10)</script>
</body></html>`

func TestPageCheckoutFlow(t *testing.T) {
	f := requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, checkoutPage)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	driver, err := f.NewDriver(ctx)
	require.NoError(t, err)
	defer driver.Close()

	page := driver.Primary()
	require.NoError(t, page.Navigate(ctx, server.URL))
	require.NoError(t, page.Fill(ctx, "#card", "4242"))
	require.NoError(t, page.Click(ctx, "#pay"))
	require.NoError(t, page.WaitForSelector(ctx, "#status", interfaces.WaitOptions{Visible: true, Timeout: 5 * time.Second}))

	var status string
	require.NoError(t, page.Evaluate(ctx, `document.getElementById('status').textContent`, &status))
	assert.Equal(t, "paid:4242", status)
	assert.Contains(t, page.URL(), server.URL)

	shot := filepath.Join(t.TempDir(), "form-page-fill.png")
	require.NoError(t, page.Screenshot(ctx, shot, interfaces.ScreenshotOptions{FullPage: true, Quality: 100}))
	info, err := os.Stat(shot)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Eventually(t, func() bool {
		return len(driver.(*Driver).consoleErrorsSnapshot()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	assert.NotEmpty(t, driver.ConsoleErrors())
	assert.Empty(t, driver.ConsoleErrors(), "errors are drained")

	require.NoError(t, driver.Close())
	assert.True(t, page.IsClosed())
}

func TestDriversAreIsolated(t *testing.T) {
	f := requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := f.NewDriver(ctx)
	require.NoError(t, err)
	defer a.Close()
	b, err := f.NewDriver(ctx)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Primary().Navigate(ctx, server.URL))
	require.NoError(t, b.Primary().Navigate(ctx, server.URL))

	var ignored interface{}
	require.NoError(t, a.Primary().Evaluate(ctx, `localStorage.setItem('cart', 'a')`, &ignored))

	var cart interface{}
	require.NoError(t, b.Primary().Evaluate(ctx, `localStorage.getItem('cart')`, &cart))
	assert.Nil(t, cart)

	require.NoError(t, a.Close())
	assert.False(t, b.Primary().IsClosed())
}

func TestScreenshotEncodingMatchesExtension(t *testing.T) {
	f := requireChrome(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, checkoutPage)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	driver, err := f.NewDriver(ctx)
	require.NoError(t, err)
	defer driver.Close()

	p := driver.Primary()
	require.NoError(t, p.Navigate(ctx, server.URL))

	dir := t.TempDir()
	tests := []struct {
		name   string
		opts   interfaces.ScreenshotOptions
		format string
	}{
		{"frame_000000_ab12cd34.png", interfaces.ScreenshotOptions{Quality: 80}, "png"},
		{"error-ocurred.png", interfaces.ScreenshotOptions{FullPage: true, Quality: 50}, "png"},
		{"quick.jpg", interfaces.ScreenshotOptions{Quality: 50}, "jpeg"},
		{"full.jpg", interfaces.ScreenshotOptions{FullPage: true, Quality: 100}, "jpeg"},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.name)
		require.NoError(t, p.Screenshot(ctx, path, tt.opts), tt.name)

		file, err := os.Open(path)
		require.NoError(t, err)
		_, format, err := image.DecodeConfig(file)
		file.Close()
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.format, format, tt.name)
	}
}
