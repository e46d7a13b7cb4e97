package transcoder

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// fakeFFmpeg writes "clip" to the last argument, or JPEG-ish bytes to stdout
// when the last argument is pipe:1. Arguments are recorded next to the script.
const fakeFFmpeg = `echo "$@" > "$(dirname "$0")/args"
for last; do :; done
if [ "$last" = "pipe:1" ]; then
  printf 'JPEGDATA'
else
  printf 'clip' > "$last"
fi
`

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func recordedArgs(t *testing.T, script string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(script), "args"))
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func TestTrim(t *testing.T) {
	script := writeScript(t, "ffmpeg", fakeFFmpeg)
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	output := filepath.Join(t.TempDir(), "clip.mp4")
	err := f.Trim(context.Background(), TrimOptions{
		InputPath:  "/tmp/source.mp4",
		OutputPath: output,
		Start:      5,
		Duration:   10,
		Mode:       models.TrimModeCopy,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "clip", string(data))
	assert.Contains(t, recordedArgs(t, script), "-ss 5.000 -i /tmp/source.mp4 -t 10.000 -c copy")
}

func TestTrimFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, "ffmpeg", "echo 'Invalid data found when processing input' >&2\nexit 1\n")
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	err := f.Trim(context.Background(), TrimOptions{
		InputPath:  "/tmp/source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "clip.mp4"),
		Duration:   1,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTranscode))
	assert.Contains(t, models.ClientMessage(err), "Invalid data found")
}

func TestTrimEmptyOutput(t *testing.T) {
	script := writeScript(t, "ffmpeg", "for last; do :; done\n: > \"$last\"\n")
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	err := f.Trim(context.Background(), TrimOptions{
		InputPath:  "/tmp/source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "clip.mp4"),
		Duration:   1,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTranscode))
	assert.Equal(t, "output file is empty", models.ClientMessage(err))
}

func TestTrimMissingOutput(t *testing.T) {
	script := writeScript(t, "ffmpeg", "exit 0\n")
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	err := f.Trim(context.Background(), TrimOptions{
		InputPath:  "/tmp/source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "clip.mp4"),
		Duration:   1,
	})
	require.Error(t, err)
	assert.Equal(t, "output file not found", models.ClientMessage(err))
}

func TestTrimTimeout(t *testing.T) {
	script := writeScript(t, "ffmpeg", "exec sleep 5\n")
	f := NewFFmpeg(script, "ffprobe", 100*time.Millisecond, nil)

	start := time.Now()
	err := f.Trim(context.Background(), TrimOptions{
		InputPath:  "/tmp/source.mp4",
		OutputPath: filepath.Join(t.TempDir(), "clip.mp4"),
		Duration:   1,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTranscode))
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTrimArgs(t *testing.T) {
	tests := []struct {
		name     string
		opts     TrimOptions
		contains []string
		excludes []string
	}{
		{
			name:     "copy",
			opts:     TrimOptions{InputPath: "in.mp4", OutputPath: "out.mp4", Start: 1.5, Duration: 3, Mode: models.TrimModeCopy},
			contains: []string{"-c", "copy", "-avoid_negative_ts"},
			excludes: []string{"libx264"},
		},
		{
			name:     "reencode",
			opts:     TrimOptions{InputPath: "in.mp4", OutputPath: "out.mp4", Start: 1.5, Duration: 3, Mode: models.TrimModeReencode},
			contains: []string{"libx264", "aac", "yuv420p"},
			excludes: []string{"copy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := TrimArgs(tt.opts)
			for _, want := range tt.contains {
				assert.Contains(t, args, want)
			}
			for _, unwanted := range tt.excludes {
				assert.NotContains(t, args, unwanted)
			}

			// seek precedes the input
			ss := indexOf(args, "-ss")
			in := indexOf(args, "-i")
			assert.Less(t, ss, in)
			assert.Equal(t, "1.500", args[ss+1])
			assert.Equal(t, "out.mp4", args[len(args)-1])
		})
	}
}

func TestTrimRejectsInvalidWindow(t *testing.T) {
	tests := []struct {
		name            string
		start, duration float64
	}{
		{"zero duration", 5, 0},
		{"negative duration", 5, -1},
		{"NaN duration", 5, math.NaN()},
		{"infinite duration", 0, math.Inf(1)},
		{"NaN start", math.NaN(), 3},
		{"infinite start", math.Inf(1), 3},
		{"negative start", -1, 3},
	}

	f := NewFFmpeg("/nonexistent/ffmpeg", "ffprobe", time.Second, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Trim(context.Background(), TrimOptions{InputPath: "in", OutputPath: "out", Start: tt.start, Duration: tt.duration})
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindValidation))
		})
	}
}

func TestProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    float64
		wantErr bool
	}{
		{name: "format duration", output: `{"format":{"duration":"12.500000"},"streams":[]}`, want: 12.5},
		{name: "stream fallback", output: `{"format":{"duration":"N/A"},"streams":[{"codec_type":"video","duration":"8.0"},{"codec_type":"audio","duration":"9.5"}]}`, want: 9.5},
		{name: "zero duration", output: `{"format":{"duration":"0"},"streams":[]}`, wantErr: true},
		{name: "garbage", output: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, "ffprobe", "cat <<'EOF'\n"+tt.output+"\nEOF\n")
			f := NewFFmpeg("ffmpeg", script, 5*time.Second, nil)

			got, err := f.ProbeDuration(context.Background(), "/tmp/video.mp4")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, models.IsKind(err, models.KindTranscode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMux(t *testing.T) {
	script := writeScript(t, "ffmpeg", fakeFFmpeg)
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	output := filepath.Join(t.TempDir(), "merged.mp4")
	require.NoError(t, f.Mux(context.Background(), "/tmp/v.mp4", "/tmp/a.m4a", output))

	args := recordedArgs(t, script)
	assert.Contains(t, args, "-i /tmp/v.mp4 -i /tmp/a.m4a")
	assert.Contains(t, args, "-c copy")
}

func TestExtractFrame(t *testing.T) {
	script := writeScript(t, "ffmpeg", fakeFFmpeg)
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	data, err := f.ExtractFrame(context.Background(), FrameOptions{InputPath: "/tmp/v.mp4", At: 2.25, Height: 90})
	require.NoError(t, err)
	assert.Equal(t, "JPEGDATA", string(data))
	assert.Contains(t, recordedArgs(t, script), "scale=-2:90")
}

func TestExtractFrameEmpty(t *testing.T) {
	script := writeScript(t, "ffmpeg", "exit 0\n")
	f := NewFFmpeg(script, "ffprobe", 5*time.Second, nil)

	_, err := f.ExtractFrame(context.Background(), FrameOptions{InputPath: "/tmp/v.mp4", At: 100})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTranscode))
}

func TestFrameArgsDefaults(t *testing.T) {
	args := FrameArgs(FrameOptions{InputPath: "in.mp4", At: 1})
	assert.Contains(t, args, "scale=-2:90")
	assert.Contains(t, args, "5")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}
