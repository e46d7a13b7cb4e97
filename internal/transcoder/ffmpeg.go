package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	logger      *logging.Logger
}

// NewFFmpeg creates a new FFmpeg instance. timeout bounds each invocation; zero disables it.
func NewFFmpeg(ffmpegPath, ffprobePath string, timeout time.Duration, logger *logging.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
		logger:      logger.WithComponent("transcoder"),
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

// ProbeVideo extracts metadata from a video file
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	stdout, err := f.run(ctx, "probe", f.ffprobePath, args)
	if err != nil {
		return nil, models.NewTranscodeError("probe video", "failed to read video file", err)
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout, &metadata); err != nil {
		return nil, models.NewTranscodeError("probe video", "failed to read video file",
			fmt.Errorf("failed to parse ffprobe output: %w", err))
	}

	return &metadata, nil
}

// ProbeDuration returns the container duration in seconds, falling back to
// the longest stream when the container does not report one
func (f *FFmpeg) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	metadata, err := f.ProbeVideo(ctx, inputPath)
	if err != nil {
		return 0, err
	}

	duration := parseSeconds(metadata.Format.Duration)
	if duration <= 0 {
		for _, s := range metadata.Streams {
			if d := parseSeconds(s.Duration); d > duration {
				duration = d
			}
		}
	}
	if duration <= 0 {
		return 0, models.NewTranscodeError("probe video",
			fmt.Sprintf("invalid video duration: %g", duration), nil)
	}
	return duration, nil
}

// Mux copies the first video stream of videoPath and the first audio stream
// of audioPath into output without re-encoding
func (f *FFmpeg) Mux(ctx context.Context, videoPath, audioPath, output string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}

	if _, err := f.run(ctx, "mux", f.ffmpegPath, args); err != nil {
		return models.NewTranscodeError("mux", "failed to merge audio and video: "+diagnostic(err), err)
	}
	return checkOutput("mux", output)
}

// run executes an external tool, capturing stdout and keeping stderr as the
// error diagnostic
func (f *FFmpeg) run(ctx context.Context, op, tool string, args []string) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	f.logger.LogExternalCommand(tool, args, elapsed, err)
	metrics.RecordTranscode(op, elapsed.Seconds(), err)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &toolError{tool: tool, err: err, stderr: fmt.Sprintf("timed out after %s", f.timeout)}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &toolError{tool: tool, err: err, stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

// toolError keeps the tool's stderr so it can be surfaced as a diagnostic
type toolError struct {
	tool   string
	err    error
	stderr string
}

func (e *toolError) Error() string {
	if d := lastLines(e.stderr, 3); d != "" {
		return fmt.Sprintf("%s failed: %v, stderr: %s", e.tool, e.err, d)
	}
	return fmt.Sprintf("%s failed: %v", e.tool, e.err)
}

func (e *toolError) Unwrap() error {
	return e.err
}

// diagnostic returns the most useful line of a failure for the client
func diagnostic(err error) string {
	var te *toolError
	if errors.As(err, &te) {
		if d := lastLines(te.stderr, 1); d != "" {
			return d
		}
		return te.err.Error()
	}
	return err.Error()
}

func checkOutput(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return models.NewTranscodeError(op, "output file not found", err)
	}
	if info.Size() == 0 {
		return models.NewTranscodeError(op, "output file is empty", nil)
	}
	return nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func lastLines(out string, n int) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append([]string{line}, kept...)
		}
	}
	return strings.Join(kept, "\n")
}
