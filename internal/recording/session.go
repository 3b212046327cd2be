package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/interfaces"
	"github.com/ternarybob/payrun/internal/models"
)

// HandleSource returns the live capture handles of a session's test case,
// primary first. It is called once per frame so popups opened mid-flow are seen.
type HandleSource func(ctx context.Context) []interfaces.CaptureTarget

// session is one test case's recording partition.
// captureMu serializes frame captures so frameIndex only advances on success;
// mu guards the fields below it.
type session struct {
	captureMu sync.Mutex

	mu                  sync.Mutex
	threadID            string
	shortID             string
	testCaseID          string
	videoDir            string
	state               models.RecordingState
	frameIndex          int
	frames              []string
	errorCount          int
	consecutiveFailures int
	startedAt           time.Time
	handles             HandleSource

	// interval loop; both nil while not capturing
	stop     context.CancelFunc
	loopDone chan struct{}
}

func (s *session) framePath(index int) string {
	return filepath.Join(s.videoDir, fmt.Sprintf("frame_%06d_%s.png", index, s.shortID))
}

// ownGlob matches every frame file this session may have written
func (s *session) ownGlob() string {
	return filepath.Join(s.videoDir, "frame_*_"+s.shortID+".png")
}

// acceptsFrames reports whether new frames may still be recorded. Caller holds mu.
func (s *session) acceptsFrames() bool {
	return s.state == models.RecordingUninitialized || s.state == models.RecordingCapturing
}

func (s *session) stats(now time.Time) models.RecordingStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.RecordingStats{
		ThreadID:          s.threadID,
		TestCaseID:        s.testCaseID,
		State:             s.state,
		FrameCount:        s.frameIndex,
		CaptureErrorCount: s.errorCount,
		StartedAt:         s.startedAt,
		Elapsed:           now.Sub(s.startedAt),
		Capturing:         s.stop != nil,
	}
}

// detachInterval removes the loop handles from the session and returns them
func (s *session) detachInterval() (context.CancelFunc, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop, done := s.stop, s.loopDone
	s.stop, s.loopDone = nil, nil
	return stop, done
}

func newShortID(threadID string) string {
	return common.ShortID(threadID, 8)
}
