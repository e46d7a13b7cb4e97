package transcoder

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// TrimOptions holds the parameters of one clip cut
type TrimOptions struct {
	InputPath  string
	OutputPath string
	Start      float64 // seconds
	Duration   float64 // seconds
	Mode       models.TrimMode
}

// Trim cuts [Start, Start+Duration) of the input into OutputPath and checks
// that a non-empty file was produced
func (f *FFmpeg) Trim(ctx context.Context, opts TrimOptions) error {
	if !(opts.Duration > 0) || math.IsInf(opts.Duration, 0) {
		return models.NewValidationError("trim", "clip duration must be a positive finite number")
	}
	if !(opts.Start >= 0) || math.IsInf(opts.Start, 0) {
		return models.NewValidationError("trim", "clip start must be a non-negative finite number")
	}

	if _, err := f.run(ctx, "trim", f.ffmpegPath, TrimArgs(opts)); err != nil {
		return models.NewTranscodeError("trim", "failed to trim video: "+diagnostic(err), err)
	}
	return checkOutput("trim", opts.OutputPath)
}

// TrimArgs builds the ffmpeg arguments for a cut. Seeking happens before the
// input so ffmpeg jumps straight to the nearest keyframe.
func TrimArgs(opts TrimOptions) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(opts.Start),
		"-i", opts.InputPath,
		"-t", formatSeconds(opts.Duration),
	}

	switch opts.Mode {
	case models.TrimModeReencode:
		args = append(args,
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "23",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-b:a", "128k",
		)
	default:
		args = append(args,
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
		)
	}

	args = append(args, "-movflags", "+faststart", opts.OutputPath)
	return args
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// String describes the cut for logs
func (o TrimOptions) String() string {
	return fmt.Sprintf("%s [%s+%s] %s", o.InputPath, formatSeconds(o.Start), formatSeconds(o.Duration), o.Mode)
}
