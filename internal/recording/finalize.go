package recording

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/ternarybob/payrun/internal/capture"
	"github.com/ternarybob/payrun/internal/models"
)

// sequenceName is the contiguous numbering the assembler reads
const sequenceName = "frame_%06d.png"

// Finalize turns a session into a video at outputPath and releases it.
// Order: stop the interval, fence off late frames, enforce the minimum duration,
// pad to the minimum frame count, renumber into a private directory, assemble,
// move into place. Frame files and the private directory are removed whatever
// happens, and the session ends Closed. Failures are reported in the result,
// never as a panic; the error return is only for an unknown or closed session.
func (m *Manager) Finalize(ctx context.Context, threadID, outputPath string) (result *models.FinalizeResult, err error) {
	s := m.lookup(threadID)
	if s == nil {
		return nil, ErrSessionNotFound
	}

	m.stopInterval(s)

	s.mu.Lock()
	if !s.acceptsFrames() {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.state = models.RecordingFinalizing
	frames := append([]string(nil), s.frames...)
	errorCount := s.errorCount
	startedAt := s.startedAt
	s.mu.Unlock()

	result = &models.FinalizeResult{
		FrameCount: len(frames),
		ErrorCount: errorCount,
	}

	var tmpDir string
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("finalize panicked: %v", r)
			m.logger.Error().Str("thread_id", threadID).Str("panic", fmt.Sprintf("%v", r)).Msg("Recovered from panic in recording finalize")
		}
		if tmpDir != "" {
			if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
				m.logger.Warn().Err(rmErr).Str("path", tmpDir).Msg("Failed to remove assembly directory")
			}
		}
		s.mu.Lock()
		s.state = models.RecordingClosed
		s.mu.Unlock()
		m.removeFrames(s)
		m.release(threadID)
		result.Duration = m.now().Sub(startedAt)
	}()

	// 1. minimum duration floor
	if elapsed := m.now().Sub(startedAt); elapsed < m.config.MinDuration {
		remaining := m.config.MinDuration - elapsed
		m.logger.Debug().
			Str("thread_id", threadID).
			Dur("elapsed", elapsed).
			Dur("waiting", remaining).
			Msg("Recording shorter than minimum duration - waiting")
		if err := m.sleep(ctx, remaining); err != nil {
			m.logger.Warn().Err(err).Str("thread_id", threadID).Msg("Minimum duration wait interrupted")
		}
	}

	// 2 + 3. renumber real frames and pad with placeholders in a private directory
	tmpDir, mkErr := os.MkdirTemp(s.videoDir, "assemble_"+s.shortID+"_")
	if mkErr != nil {
		tmpDir = ""
		result.Error = fmt.Sprintf("failed to create assembly directory: %v", mkErr)
		return result, nil
	}

	sequenced, seqErr := m.sequenceFrames(frames, tmpDir)
	if seqErr != nil {
		result.Error = seqErr.Error()
		return result, nil
	}
	result.FrameCount = sequenced
	result.SynthesizedCount, seqErr = m.padFrames(tmpDir, sequenced)
	if seqErr != nil {
		result.Error = seqErr.Error()
		return result, nil
	}

	// 4. assemble and move into place
	if m.assembler == nil {
		result.Error = "no video assembler configured"
		return result, nil
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		result.Error = fmt.Sprintf("failed to create output directory: %v", err)
		return result, nil
	}

	tmpOut := filepath.Join(tmpDir, "assembled"+filepath.Ext(outputPath))
	if err := m.assembler.Assemble(ctx, tmpDir, tmpOut, m.config.FPS); err != nil {
		result.Error = err.Error()
		m.logger.Warn().Err(err).Str("thread_id", threadID).Msg("Video assembly failed")
		return result, nil
	}
	if err := capture.VerifyArtifact(tmpOut); err != nil {
		result.Error = err.Error()
		return result, nil
	}
	if err := os.Rename(tmpOut, outputPath); err != nil {
		result.Error = fmt.Sprintf("failed to move video into place: %v", err)
		return result, nil
	}

	result.Success = true
	result.OutputPath = outputPath

	m.logger.Debug().
		Str("thread_id", threadID).
		Str("output", outputPath).
		Int("frames", result.FrameCount).
		Int("synthesized", result.SynthesizedCount).
		Int("capture_errors", errorCount).
		Msg("Recording finalized")

	return result, nil
}

// sequenceFrames copies the existing frames into dir as frame_000000.png, ...
// Frames that vanished are skipped. Returns the number copied.
func (m *Manager) sequenceFrames(frames []string, dir string) (int, error) {
	n := 0
	for _, src := range frames {
		if capture.VerifyArtifact(src) != nil {
			continue
		}
		if err := copyFile(src, filepath.Join(dir, fmt.Sprintf(sequenceName, n))); err != nil {
			return n, fmt.Errorf("failed to sequence frame %s: %w", src, err)
		}
		n++
	}
	return n, nil
}

// padFrames brings dir up to MinFrames by repeating the last frame, or by
// writing a blank placeholder when there is none. Returns the number synthesized.
func (m *Manager) padFrames(dir string, have int) (int, error) {
	if have >= m.config.MinFrames {
		return 0, nil
	}

	synthesized := 0
	if have == 0 {
		if err := writePlaceholder(filepath.Join(dir, fmt.Sprintf(sequenceName, 0)), m.config.PlaceholderWidth, m.config.PlaceholderHeight); err != nil {
			return 0, fmt.Errorf("failed to write placeholder frame: %w", err)
		}
		have, synthesized = 1, 1
	}

	source := filepath.Join(dir, fmt.Sprintf(sequenceName, have-1))
	for ; have < m.config.MinFrames; have++ {
		if err := copyFile(source, filepath.Join(dir, fmt.Sprintf(sequenceName, have))); err != nil {
			return synthesized, fmt.Errorf("failed to synthesize frame: %w", err)
		}
		synthesized++
	}
	return synthesized, nil
}

// writePlaceholder encodes a uniform dark frame
func writePlaceholder(path string, width, height int) error {
	if width <= 0 || height <= 0 {
		width, height = 640, 360
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 32, G: 32, B: 32, A: 255}}, image.Point{}, draw.Src)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
