package transcoder

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// FrameOptions holds options for single frame extraction
type FrameOptions struct {
	InputPath string
	At        float64 // seconds
	Height    int     // output height, width keeps aspect ratio
	Quality   int     // JPEG quality (2-31, lower is better quality)
}

// ExtractFrame grabs one frame at opts.At and returns it JPEG encoded
func (f *FFmpeg) ExtractFrame(ctx context.Context, opts FrameOptions) ([]byte, error) {
	out, err := f.run(ctx, "frame", f.ffmpegPath, FrameArgs(opts))
	if err != nil {
		return nil, models.NewTranscodeError("extract frame",
			fmt.Sprintf("failed to extract frame at %.2fs: %s", opts.At, diagnostic(err)), err)
	}
	if len(out) == 0 {
		return nil, models.NewTranscodeError("extract frame",
			fmt.Sprintf("no frame decoded at %.2fs", opts.At), nil)
	}
	return out, nil
}

// FrameArgs builds the ffmpeg arguments that write one JPEG frame to stdout
func FrameArgs(opts FrameOptions) []string {
	quality := opts.Quality
	if quality <= 0 {
		quality = 5
	}
	height := opts.Height
	if height <= 0 {
		height = 90
	}

	return []string{
		"-hide_banner", "-nostdin",
		"-ss", formatSeconds(opts.At),
		"-i", opts.InputPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		"-q:v", fmt.Sprintf("%d", quality),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	}
}
