package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/capture"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
	"github.com/ternarybob/payrun/internal/models"
)

var (
	// ErrSessionNotFound is returned for an unknown or already released thread id
	ErrSessionNotFound = errors.New("recording session not found")
	// ErrSessionClosed is returned when a session no longer accepts frames or finalize
	ErrSessionClosed = errors.New("recording session is closed")
)

// maxThreadIDAttempts bounds regeneration when a short id collides inside a shared directory
const maxThreadIDAttempts = 5

// Manager owns one recording session per running test case, keyed by thread id.
// The map lock covers only lookup/insert/delete; each session carries its own lock
// because the interval goroutine and the task goroutine both touch it.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	config    Config
	assembler interfaces.Assembler
	logger    arbor.ILogger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager. assembler turns renumbered frames into the video.
func NewManager(config Config, assembler interfaces.Assembler, logger arbor.ILogger) *Manager {
	return &Manager{
		sessions:  make(map[string]*session),
		config:    config.normalized(),
		assembler: assembler,
		logger:    logger,
		now:       time.Now,
		sleep:     common.SleepContext,
	}
}

// InitializeRecording creates a session for testCaseID writing frames into
// baseDir/<FrameDirName>. Sessions of different test cases may share a frame
// directory; file names embed the last 8 characters of the thread id, which are
// kept unique among live sessions of the same directory.
func (m *Manager) InitializeRecording(testCaseID, baseDir string, handles HandleSource) (*models.RecordingInfo, error) {
	videoDir := filepath.Join(baseDir, m.config.FrameDirName)
	if err := os.MkdirAll(videoDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory %s: %w", videoDir, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var threadID string
	for attempt := 0; attempt < maxThreadIDAttempts; attempt++ {
		candidate := common.NewThreadID()
		if !m.collidesLocked(candidate, videoDir) {
			threadID = candidate
			break
		}
	}
	if threadID == "" {
		return nil, fmt.Errorf("failed to generate a unique thread id for %s", testCaseID)
	}

	s := &session{
		threadID:   threadID,
		shortID:    newShortID(threadID),
		testCaseID: testCaseID,
		videoDir:   videoDir,
		state:      models.RecordingUninitialized,
		startedAt:  m.now(),
		handles:    handles,
	}
	m.sessions[threadID] = s

	m.logger.Debug().
		Str("thread_id", threadID).
		Str("test_case", testCaseID).
		Str("video_dir", videoDir).
		Msg("Recording session initialized")

	return &models.RecordingInfo{ThreadID: threadID, VideoDir: videoDir}, nil
}

func (m *Manager) collidesLocked(threadID, videoDir string) bool {
	if _, exists := m.sessions[threadID]; exists {
		return true
	}
	short := newShortID(threadID)
	for _, s := range m.sessions {
		if s.videoDir == videoDir && s.shortID == short {
			return true
		}
	}
	return false
}

// CaptureFrame takes one frame, trying each live handle in order.
// Failures are counted; only every FailureLogEvery-th consecutive failure is logged.
func (m *Manager) CaptureFrame(ctx context.Context, threadID string) (models.FrameResult, error) {
	s := m.lookup(threadID)
	if s == nil {
		return models.FrameResult{}, ErrSessionNotFound
	}

	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	s.mu.Lock()
	if !s.acceptsFrames() {
		s.mu.Unlock()
		return models.FrameResult{}, ErrSessionClosed
	}
	path := s.framePath(s.frameIndex)
	handles := s.handles
	s.mu.Unlock()

	err := m.shootFrame(ctx, handles, path)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Finalize began while the screenshot was in flight: the frame must not land
	if !s.acceptsFrames() {
		_ = os.Remove(path)
		return models.FrameResult{}, ErrSessionClosed
	}

	if err != nil {
		s.errorCount++
		s.consecutiveFailures++
		if s.consecutiveFailures%m.config.FailureLogEvery == 0 {
			m.logger.Warn().
				Err(err).
				Str("thread_id", threadID).
				Str("test_case", s.testCaseID).
				Int("consecutive_failures", s.consecutiveFailures).
				Int("total_failures", s.errorCount).
				Msg("Frame capture keeps failing")
		}
		return models.FrameResult{Success: false}, nil
	}

	s.frameIndex++
	s.consecutiveFailures = 0
	s.frames = append(s.frames, path)
	return models.FrameResult{Success: true, Path: path}, nil
}

func (m *Manager) shootFrame(ctx context.Context, handles HandleSource, path string) error {
	if handles == nil {
		return errors.New("no capture handles")
	}

	var lastErr error = capture.ErrTargetClosed
	for _, h := range handles(ctx) {
		if h == nil || h.IsClosed() {
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, m.config.FrameTimeout)
		err := h.Screenshot(fctx, path, interfaces.ScreenshotOptions{
			FullPage: false,
			Timeout:  m.config.FrameTimeout,
		})
		cancel()
		if err == nil {
			err = capture.VerifyArtifact(path)
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// StartInterval arms the periodic frame capture for a session. The loop runs until
// StopInterval, Finalize, Cleanup or ctx cancellation. Frames captured by the loop
// use ctx, so stopping the loop does not abort a capture already in flight.
func (m *Manager) StartInterval(ctx context.Context, threadID string, period time.Duration) error {
	s := m.lookup(threadID)
	if s == nil {
		return ErrSessionNotFound
	}
	if period <= 0 {
		period = m.config.FrameInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acceptsFrames() {
		return ErrSessionClosed
	}
	if s.stop != nil {
		return nil
	}

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stop, s.loopDone = stop, done
	s.state = models.RecordingCapturing

	go m.intervalLoop(ctx, loopCtx, threadID, period, done)
	return nil
}

func (m *Manager) intervalLoop(ctx, loopCtx context.Context, threadID string, period time.Duration, done chan struct{}) {
	defer close(done)
	defer common.RecoverPanic(m.logger, "recording-interval-"+threadID)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			if _, err := m.CaptureFrame(ctx, threadID); err != nil {
				// session closed or released underneath the loop
				return
			}
		}
	}
}

// StopInterval cancels the periodic capture and waits up to SettleDelay for an
// in-flight capture to land. It reports whether a loop was running.
func (m *Manager) StopInterval(threadID string) bool {
	s := m.lookup(threadID)
	if s == nil {
		return false
	}
	return m.stopInterval(s)
}

func (m *Manager) stopInterval(s *session) bool {
	stop, done := s.detachInterval()
	if stop == nil {
		return false
	}
	stop()

	timer := time.NewTimer(m.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Debug().Str("thread_id", s.threadID).Msg("Frame capture still in flight after settle delay - it will be discarded")
	}
	return true
}

// Stats returns a point-in-time view of a session
func (m *Manager) Stats(threadID string) (models.RecordingStats, error) {
	s := m.lookup(threadID)
	if s == nil {
		return models.RecordingStats{}, ErrSessionNotFound
	}
	return s.stats(m.now()), nil
}

// ListActive returns the stats of every live session, oldest first
func (m *Manager) ListActive() []models.RecordingStats {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := m.now()
	stats := make([]models.RecordingStats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.stats(now))
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].StartedAt.Equal(stats[j].StartedAt) {
			return stats[i].ThreadID < stats[j].ThreadID
		}
		return stats[i].StartedAt.Before(stats[j].StartedAt)
	})
	return stats
}

// Cleanup stops any live interval, deletes the session's frame files and releases
// the session. Calling it for an unknown or released thread id is a no-op.
func (m *Manager) Cleanup(threadID string) bool {
	s := m.lookup(threadID)
	if s == nil {
		return false
	}
	m.stopInterval(s)

	s.mu.Lock()
	s.state = models.RecordingClosed
	s.mu.Unlock()

	m.removeFrames(s)
	m.release(threadID)
	return true
}

// Shutdown cleans up every live session
func (m *Manager) Shutdown() {
	for _, st := range m.ListActive() {
		m.Cleanup(st.ThreadID)
	}
}

// removeFrames deletes only this session's files, then the shared directory if
// it became empty
func (m *Manager) removeFrames(s *session) {
	matches, err := filepath.Glob(s.ownGlob())
	if err != nil {
		m.logger.Warn().Err(err).Str("thread_id", s.threadID).Msg("Failed to list session frames")
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove frame")
		}
	}

	entries, err := os.ReadDir(s.videoDir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(s.videoDir)
	}
}

func (m *Manager) lookup(threadID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[threadID]
}

func (m *Manager) release(threadID string) {
	m.mu.Lock()
	delete(m.sessions, threadID)
	m.mu.Unlock()
}
