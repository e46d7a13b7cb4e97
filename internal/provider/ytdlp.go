package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
)

// YtDlp drives the yt-dlp command line tool
type YtDlp struct {
	path            string
	timeout         time.Duration
	downloadTimeout time.Duration
	logger          *logging.Logger
}

// NewYtDlp creates a yt-dlp backend
func NewYtDlp(path string, timeout, downloadTimeout time.Duration, logger *logging.Logger) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &YtDlp{
		path:            path,
		timeout:         timeout,
		downloadTimeout: downloadTimeout,
		logger:          logger.WithComponent("ytdlp"),
	}
}

// Name returns the backend name
func (y *YtDlp) Name() string {
	return "ytdlp"
}

// Match accepts any http(s) URL; yt-dlp decides support itself
func (y *YtDlp) Match(rawURL string) bool {
	return ValidateURL(rawURL) == nil
}

// Extract dumps the video's metadata as JSON without downloading
func (y *YtDlp) Extract(ctx context.Context, rawURL string) (*RawInfo, error) {
	out, err := y.run(ctx, y.timeout, ExtractArgs(rawURL)...)
	if err != nil {
		return nil, err
	}

	var info RawInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}
	return &info, nil
}

// Download fetches one format to req.Output, merging best audio when asked
func (y *YtDlp) Download(ctx context.Context, req DownloadRequest) error {
	_, err := y.run(ctx, y.downloadTimeout, DownloadArgs(req)...)
	return err
}

// ExtractArgs builds the yt-dlp arguments for metadata extraction
func ExtractArgs(rawURL string) []string {
	return []string{"-J", "--no-playlist", "--no-warnings", rawURL}
}

// DownloadArgs builds the yt-dlp arguments for a single-format download
func DownloadArgs(req DownloadRequest) []string {
	selector := req.FormatID
	args := []string{"--no-playlist", "--no-warnings", "--no-part", "--force-overwrites"}
	if req.MergeAudio {
		selector = fmt.Sprintf("%[1]s+bestaudio[ext=m4a]/%[1]s+bestaudio/%[1]s", req.FormatID)
		args = append(args, "--merge-output-format", "mp4")
	}
	args = append(args, "-f", selector, "-o", req.Output, req.URL)
	return args
}

func (y *YtDlp) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, y.path, args...)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	y.logger.LogExternalCommand("yt-dlp", args, time.Since(start), err)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("yt-dlp timed out after %s: %w", timeout, ctx.Err())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if diag := lastLines(stderr.String(), 3); diag != "" {
			return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, diag)
		}
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	return stdout.Bytes(), nil
}
