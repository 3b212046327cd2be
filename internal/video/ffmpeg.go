package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
)

// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be resolved
var ErrFFmpegNotFound = errors.New("ffmpeg not found")

// FramePattern is the input pattern the assembler expects inside frameDir
const FramePattern = "frame_%06d.png"

// maxOutputTail caps the encoder output carried in an AssembleError
const maxOutputTail = 2048

// AssembleError carries the encoder output of a failed assembly
type AssembleError struct {
	Output string // tail of the combined encoder output
	Err    error
}

func (e *AssembleError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("video assembly failed: %v", e.Err)
	}
	return fmt.Sprintf("video assembly failed: %v\nOutput: %s", e.Err, e.Output)
}

func (e *AssembleError) Unwrap() error {
	return e.Err
}

// Config controls the encoder invocation
type Config struct {
	FFmpegPath string
	Codec      string
	PixFmt     string
	ExtraArgs  []string
	Timeout    time.Duration
}

// ConfigFrom converts the [video] section of the runner configuration
func ConfigFrom(c common.VideoConfig) Config {
	cfg := Config{
		FFmpegPath: c.FFmpegPath,
		Codec:      c.Codec,
		PixFmt:     c.PixFmt,
		ExtraArgs:  c.ExtraArgs,
		Timeout:    common.ParseDurationOr(c.Timeout, 2*time.Minute),
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.Codec == "" {
		cfg.Codec = "libx264"
	}
	if cfg.PixFmt == "" {
		cfg.PixFmt = "yuv420p"
	}
	return cfg
}

// FFmpegAssembler encodes numbered PNG frames into a video with an external ffmpeg
type FFmpegAssembler struct {
	config Config
	logger arbor.ILogger
	run    func(ctx context.Context, bin string, args []string) ([]byte, error)
}

// NewFFmpegAssembler creates an assembler. The binary is resolved per call so a
// missing ffmpeg degrades individual videos instead of failing startup.
func NewFFmpegAssembler(config Config, logger arbor.ILogger) *FFmpegAssembler {
	return &FFmpegAssembler{
		config: config,
		logger: logger,
		run:    runCommand,
	}
}

// Available reports whether the ffmpeg binary can be resolved
func (a *FFmpegAssembler) Available() bool {
	_, err := a.resolve()
	return err == nil
}

// Assemble reads frameDir/frame_%06d.png and writes outputPath
func (a *FFmpegAssembler) Assemble(ctx context.Context, frameDir, outputPath string, fps int) error {
	bin, err := a.resolve()
	if err != nil {
		return err
	}
	if fps <= 0 {
		fps = 1
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	args := a.Args(frameDir, outputPath, fps)
	started := time.Now()
	output, err := a.run(ctx, bin, args)
	if err != nil {
		return &AssembleError{Output: tail(string(output), maxOutputTail), Err: err}
	}

	a.logger.Debug().
		Str("output", outputPath).
		Int("fps", fps).
		Dur("elapsed", time.Since(started)).
		Msg("Video assembled")
	return nil
}

// Args builds the ffmpeg argument list. The scale filter rounds odd dimensions
// down to even ones, which yuv420p requires.
func (a *FFmpegAssembler) Args(frameDir, outputPath string, fps int) []string {
	args := []string{
		"-y",
		"-loglevel", "error",
		"-framerate", strconv.Itoa(fps),
		"-i", filepath.Join(frameDir, FramePattern),
		"-c:v", a.config.Codec,
		"-pix_fmt", a.config.PixFmt,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
	}
	args = append(args, a.config.ExtraArgs...)
	return append(args, outputPath)
}

func (a *FFmpegAssembler) resolve() (string, error) {
	bin := a.config.FFmpegPath
	if filepath.IsAbs(bin) {
		if _, err := os.Stat(bin); err != nil {
			return "", fmt.Errorf("%w: %s", ErrFFmpegNotFound, bin)
		}
		return bin, nil
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFFmpegNotFound, err)
	}
	return path, nil
}

func runCommand(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	return cmd.CombinedOutput()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
