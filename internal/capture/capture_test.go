package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
)

// fakeTarget writes a small file per screenshot. failFirst calls fail; empty
// makes every call leave a zero-byte file; rejectFullPage fails full-page calls.
type fakeTarget struct {
	mu             sync.Mutex
	closed         bool
	failFirst      int
	empty          bool
	rejectFullPage bool
	calls          []interfaces.ScreenshotOptions
}

func (f *fakeTarget) Screenshot(ctx context.Context, path string, opts interfaces.ScreenshotOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.closed {
		return errors.New("target closed")
	}
	if len(f.calls) <= f.failFirst {
		return errors.New("transient paint failure")
	}
	if f.rejectFullPage && opts.FullPage {
		return errors.New("full page unsupported")
	}
	if f.empty {
		return os.WriteFile(path, nil, 0644)
	}
	return os.WriteFile(path, []byte("png-bytes"), 0644)
}

func (f *fakeTarget) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTarget) URL() string { return "https://checkout.example.test/pay" }

func (f *fakeTarget) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func newTestCapturer(t *testing.T) (*Capturer, *recordedSleeps) {
	t.Helper()
	c := NewCapturer(DefaultConfig(), arbor.NewNoOpLogger())
	sleeps := &recordedSleeps{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps.mu.Lock()
		sleeps.delays = append(sleeps.delays, d)
		sleeps.mu.Unlock()
		return ctx.Err()
	}
	return c, sleeps
}

func TestScreenshotSucceedsFirstAttempt(t *testing.T) {
	c, sleeps := newTestCapturer(t)
	target := &fakeTarget{}
	path := filepath.Join(t.TempDir(), "form-page-fill.png")

	result, err := c.Screenshot(context.Background(), target, path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.Emergency)
	assert.FileExists(t, path)
	assert.Empty(t, sleeps.delays)
	assert.True(t, target.calls[0].FullPage)
}

func TestScreenshotRetriesTransientFailure(t *testing.T) {
	c, sleeps := newTestCapturer(t)
	target := &fakeTarget{failFirst: 2}
	path := filepath.Join(t.TempDir(), "shot.png")

	result, err := c.Screenshot(context.Background(), target, path, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, sleeps.delays, 2)
}

func TestZeroByteArtifactIsRetried(t *testing.T) {
	c, _ := newTestCapturer(t)
	target := &fakeTarget{empty: true}
	path := filepath.Join(t.TempDir(), "shot.png")

	_, err := c.Screenshot(context.Background(), target, path, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, target.callCount())
	assert.NoFileExists(t, path, "empty artifacts are removed")
}

func TestNonCriticalClosedTargetFailsWithoutEmergency(t *testing.T) {
	c, sleeps := newTestCapturer(t)
	target := &fakeTarget{closed: true}
	path := filepath.Join(t.TempDir(), "shot.png")

	_, err := c.Screenshot(context.Background(), target, path, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetClosed)
	assert.Equal(t, 0, target.callCount(), "precondition failures never reach the target")
	assert.Len(t, sleeps.delays, 2)
}

func TestCriticalPreconditionEscalatesToEmergency(t *testing.T) {
	c, _ := newTestCapturer(t)
	path := filepath.Join(t.TempDir(), "error-ocurred.png")
	emergencyCalls := 0

	result, err := c.CaptureWithRetry(context.Background(), Job{
		Name:         "error-ocurred",
		Path:         path,
		Critical:     true,
		Precondition: func() error { return ErrTargetClosed },
		Action: func(ctx context.Context, attempt int) error {
			t.Fatal("action must not run while precondition fails")
			return nil
		},
		Emergency: func(ctx context.Context) error {
			emergencyCalls++
			return os.WriteFile(path, []byte("low-quality"), 0644)
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Emergency)
	assert.Equal(t, 1, emergencyCalls)
}

func TestCriticalActionFailureEscalatesToEmergency(t *testing.T) {
	c, _ := newTestCapturer(t)
	target := &fakeTarget{rejectFullPage: true}
	path := filepath.Join(t.TempDir(), "shot.png")

	result, err := c.Screenshot(context.Background(), target, path, true)
	require.NoError(t, err)
	assert.True(t, result.Emergency)
	last := target.calls[len(target.calls)-1]
	assert.False(t, last.FullPage)
	assert.Equal(t, DefaultConfig().EmergencyQuality, last.Quality)
}

func TestFailedEmergencyReportsBothCauses(t *testing.T) {
	c, _ := newTestCapturer(t)
	_, err := c.CaptureWithRetry(context.Background(), Job{
		Name:      "x",
		Critical:  true,
		Action:    func(ctx context.Context, attempt int) error { return errors.New("action broke") },
		Emergency: func(ctx context.Context) error { return errors.New("emergency broke") },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Contains(t, err.Error(), "emergency broke")
	assert.Contains(t, err.Error(), "action broke")
}

func TestBackoffScalesWithAttempt(t *testing.T) {
	c, _ := newTestCapturer(t)

	for attempt := 1; attempt <= 3; attempt++ {
		d := c.BackoffDelay(attempt, false)
		assert.GreaterOrEqual(t, d, time.Duration(attempt)*100*time.Millisecond)
		assert.Less(t, d, time.Duration(attempt)*200*time.Millisecond)

		d = c.BackoffDelay(attempt, true)
		assert.GreaterOrEqual(t, d, time.Duration(attempt)*200*time.Millisecond)
		assert.Less(t, d, time.Duration(attempt)*300*time.Millisecond)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	c, _ := newTestCapturer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := c.CaptureWithRetry(ctx, Job{
		Name:   "x",
		Action: func(ctx context.Context, attempt int) error { calls++; return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestForceCaptureSkipsClosedHandlesAndFallsBack(t *testing.T) {
	c, _ := newTestCapturer(t)
	closed := &fakeTarget{closed: true}
	viewportOnly := &fakeTarget{rejectFullPage: true}
	path := filepath.Join(t.TempDir(), "error-ocurred.png")

	ok := c.ForceCapture(context.Background(), []interfaces.CaptureTarget{nil, closed, viewportOnly}, path)
	require.True(t, ok)
	assert.FileExists(t, path)
	assert.Equal(t, 0, closed.callCount())
	require.Len(t, viewportOnly.calls, 2)
	assert.True(t, viewportOnly.calls[0].FullPage)
	assert.False(t, viewportOnly.calls[1].FullPage)
}

func TestForceCaptureExhaustionReturnsFalse(t *testing.T) {
	c, _ := newTestCapturer(t)
	broken := &fakeTarget{failFirst: 100}
	empty := &fakeTarget{empty: true}
	path := filepath.Join(t.TempDir(), "error-ocurred.png")

	ok := c.ForceCapture(context.Background(), []interfaces.CaptureTarget{broken, empty}, path)
	assert.False(t, ok)
	assert.Equal(t, len(c.Strategies()), broken.callCount())
	assert.Equal(t, len(c.Strategies()), empty.callCount())
	assert.NoFileExists(t, path)
}

func TestConfigFromFallsBackToDefaults(t *testing.T) {
	cfg := ConfigFrom(common.CaptureConfig{BackoffMin: "bogus", CriticalBackoffMax: "1s"})
	def := DefaultConfig()
	assert.Equal(t, def.MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, def.BackoffMin, cfg.BackoffMin)
	assert.Equal(t, time.Second, cfg.CriticalBackoffMax)
	assert.Equal(t, def.EmergencyQuality, cfg.EmergencyQuality)
}
