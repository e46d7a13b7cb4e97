package clipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/clipper/internal/fetcher"
	"github.com/therealutkarshpriyadarshi/clipper/internal/provider"
	"github.com/therealutkarshpriyadarshi/clipper/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipper/internal/workspace"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

type fakeLookup struct {
	desc        *models.FormatDescriptor
	title       string
	err         error
	calls       int
	invalidated []string
}

func (f *fakeLookup) Invalidate(ctx context.Context, url string) {
	f.invalidated = append(f.invalidated, url)
}

func (f *fakeLookup) Lookup(ctx context.Context, url, formatID string) (*models.FormatDescriptor, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.desc, f.title, nil
}

type fakeDownloader struct {
	fs    afero.Fs
	body  string
	err   error
	calls []provider.DownloadRequest
}

func (f *fakeDownloader) Download(ctx context.Context, req provider.DownloadRequest) error {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return f.err
	}
	return afero.WriteFile(f.fs, req.Output, []byte(f.body), 0o644)
}

type fakeFetcher struct {
	body  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, dst io.Writer) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	n, err := io.Copy(dst, strings.NewReader(f.body))
	return n, err
}

type fakeTrimmer struct {
	fs    afero.Fs
	err   error
	calls []transcoder.TrimOptions
}

func (f *fakeTrimmer) Trim(ctx context.Context, opts transcoder.TrimOptions) error {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return f.err
	}
	src, err := afero.ReadFile(f.fs, opts.InputPath)
	if err != nil {
		return err
	}
	return afero.WriteFile(f.fs, opts.OutputPath, append([]byte("clip:"), src...), 0o644)
}

type harness struct {
	fs         afero.Fs
	lookup     *fakeLookup
	downloader *fakeDownloader
	fetcher    *fakeFetcher
	trimmer    *fakeTrimmer
	extractor  *Extractor
}

func newHarness(t *testing.T, desc *models.FormatDescriptor) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	workspaces, err := workspace.NewManager(fs, "/scratch", nil)
	require.NoError(t, err)

	h := &harness{
		fs:         fs,
		lookup:     &fakeLookup{desc: desc, title: "My/Video"},
		downloader: &fakeDownloader{fs: fs, body: "downloaded"},
		fetcher:    &fakeFetcher{body: "fetched"},
		trimmer:    &fakeTrimmer{fs: fs},
	}
	cfg := Config{MaxDuration: models.DefaultMaxClipDuration, Mode: models.TrimModeCopy, DownloadTimeout: time.Minute}
	h.extractor = New(cfg, h.lookup, h.downloader, h.fetcher, h.trimmer, workspaces, nil)
	return h
}

// workspaces returns the number of request workspaces left under the root
func (h *harness) workspaces(t *testing.T) int {
	t.Helper()
	entries, err := afero.ReadDir(h.fs, "/scratch")
	require.NoError(t, err)
	return len(entries)
}

func videoOnly() *models.FormatDescriptor {
	return &models.FormatDescriptor{FormatID: "137", Container: "mp4", HasVideo: true}
}

func progressive() *models.FormatDescriptor {
	return &models.FormatDescriptor{FormatID: "18", Container: "mp4", HasVideo: true, HasAudio: true, DirectURL: "https://cdn.example.com/18"}
}

func remoteRequest() models.ClipRequest {
	return models.ClipRequest{SourceURL: "https://example.com/v", FormatID: "137", StartTime: 5, EndTime: 10}
}

func readClip(t *testing.T, clip *Clip) string {
	t.Helper()
	data, err := io.ReadAll(clip)
	require.NoError(t, err)
	return string(data)
}

func TestExtractRemoteDownloadsThroughProvider(t *testing.T) {
	h := newHarness(t, videoOnly())

	clip, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.NoError(t, err)

	assert.Equal(t, "My_Video_clip.mp4", clip.Filename)
	assert.Equal(t, "clip:downloaded", readClip(t, clip))
	assert.Equal(t, int64(len("clip:downloaded")), clip.Size)

	require.Len(t, h.downloader.calls, 1)
	assert.True(t, h.downloader.calls[0].MergeAudio)
	assert.Equal(t, "137", h.downloader.calls[0].FormatID)
	assert.Equal(t, 0, h.fetcher.calls)

	require.Len(t, h.trimmer.calls, 1)
	assert.Equal(t, 5.0, h.trimmer.calls[0].Start)
	assert.Equal(t, 5.0, h.trimmer.calls[0].Duration)
	assert.Equal(t, models.TrimModeCopy, h.trimmer.calls[0].Mode)

	assert.Equal(t, 1, h.workspaces(t))
	require.NoError(t, clip.Close())
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractRemoteFetchesProgressiveDirectly(t *testing.T) {
	h := newHarness(t, progressive())

	clip, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.NoError(t, err)
	defer clip.Close()

	assert.Equal(t, "clip:fetched", readClip(t, clip))
	assert.Equal(t, 1, h.fetcher.calls)
	assert.Empty(t, h.downloader.calls)
	assert.True(t, strings.HasSuffix(h.trimmer.calls[0].InputPath, "source.mp4"))
}

func TestExtractDirectFetchFallsBackToProvider(t *testing.T) {
	h := newHarness(t, progressive())
	h.fetcher.err = errors.New("connection reset by peer")

	clip, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.NoError(t, err)
	defer clip.Close()

	assert.Equal(t, "clip:downloaded", readClip(t, clip))
	require.Len(t, h.downloader.calls, 1)
	assert.False(t, h.downloader.calls[0].MergeAudio)
	assert.Empty(t, h.lookup.invalidated)
}

func TestExtractExpiredDirectURLInvalidatesFormats(t *testing.T) {
	h := newHarness(t, progressive())
	h.fetcher.err = fmt.Errorf("fetch: %w", fetcher.ErrURLExpired)
	req := remoteRequest()

	clip, err := h.extractor.Extract(context.Background(), req)
	require.NoError(t, err)
	defer clip.Close()

	assert.Equal(t, "clip:downloaded", readClip(t, clip))
	assert.Equal(t, []string{req.SourceURL}, h.lookup.invalidated)
}

func TestExtractRejectsInvalidWindowBeforeWork(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
	}{
		{name: "empty window", start: 5, end: 5},
		{name: "reversed", start: 10, end: 5},
		{name: "negative start", start: -1, end: 5},
		{name: "too long", start: 0, end: 15.5},
		{name: "NaN start", start: math.NaN(), end: 5},
		{name: "NaN end", start: 0, end: math.NaN()},
		{name: "infinite window", start: math.Inf(1), end: math.Inf(1)},
		{name: "infinite end", start: 0, end: math.Inf(1)},
		{name: "sub-millisecond", start: 1, end: 1.0004},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, videoOnly())
			req := remoteRequest()
			req.StartTime, req.EndTime = tt.start, tt.end

			_, err := h.extractor.Extract(context.Background(), req)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindValidation))
			assert.Equal(t, 0, h.lookup.calls)
			assert.Empty(t, h.trimmer.calls)
			assert.Equal(t, 0, h.workspaces(t))
		})
		t.Run(tt.name+" upload", func(t *testing.T) {
			h := newHarness(t, videoOnly())
			req := models.ClipRequest{Upload: bytes.NewReader([]byte("uploaded")), StartTime: tt.start, EndTime: tt.end}

			_, err := h.extractor.Extract(context.Background(), req)
			require.Error(t, err)
			assert.True(t, models.IsKind(err, models.KindValidation))
			assert.Empty(t, h.trimmer.calls)
			assert.Equal(t, 0, h.workspaces(t))
		})
	}
}

func TestExtractMaximumDurationAllowed(t *testing.T) {
	h := newHarness(t, videoOnly())
	req := remoteRequest()
	req.StartTime, req.EndTime = 0, 15

	clip, err := h.extractor.Extract(context.Background(), req)
	require.NoError(t, err)
	clip.Close()
}

func TestExtractLookupErrorPassesThrough(t *testing.T) {
	h := newHarness(t, nil)
	h.lookup.err = models.NewValidationError("lookup", "format 999 is not available for this video")

	_, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))
	assert.Empty(t, h.downloader.calls)
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractDownloadFailureCleansUp(t *testing.T) {
	h := newHarness(t, videoOnly())
	h.downloader.err = errors.New("yt-dlp failed: exit status 1")

	_, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindSourceFetch))
	assert.Empty(t, h.trimmer.calls)
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractEmptyDownload(t *testing.T) {
	h := newHarness(t, videoOnly())
	h.downloader.body = ""

	_, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindSourceFetch))
	assert.Equal(t, "downloaded file is empty", models.ClientMessage(err))
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractTrimFailureCleansUp(t *testing.T) {
	h := newHarness(t, videoOnly())
	h.trimmer.err = models.NewTranscodeError("trim", "failed to trim video: moov atom not found", nil)

	_, err := h.extractor.Extract(context.Background(), remoteRequest())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTranscode))
	assert.Contains(t, models.ClientMessage(err), "moov atom not found")
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractUnclassifiedTrimErrorIsTranscode(t *testing.T) {
	h := newHarness(t, videoOnly())
	h.trimmer.err = errors.New("boom")

	_, err := h.extractor.Extract(context.Background(), remoteRequest())
	assert.True(t, models.IsKind(err, models.KindTranscode))
}

func TestExtractUpload(t *testing.T) {
	h := newHarness(t, nil)
	req := models.ClipRequest{Upload: bytes.NewReader([]byte("uploaded")), StartTime: 1, EndTime: 3}

	clip, err := h.extractor.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "clip.mp4", clip.Filename)
	assert.Equal(t, "clip:uploaded", readClip(t, clip))
	assert.Equal(t, 0, h.lookup.calls)
	assert.True(t, strings.HasSuffix(h.trimmer.calls[0].InputPath, "source.bin"))
	require.NoError(t, clip.Close())
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractEmptyUpload(t *testing.T) {
	h := newHarness(t, nil)
	req := models.ClipRequest{Upload: bytes.NewReader(nil), StartTime: 1, EndTime: 3}

	_, err := h.extractor.Extract(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))
	assert.Empty(t, h.trimmer.calls)
	assert.Equal(t, 0, h.workspaces(t))
}

func TestExtractUploadTooLarge(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	body := http.MaxBytesReader(rec, io.NopCloser(strings.NewReader("0123456789")), 4)
	req := models.ClipRequest{Upload: body, StartTime: 1, EndTime: 3}

	_, err := h.extractor.Extract(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindValidation))
	assert.Contains(t, models.ClientMessage(err), "exceeds 4 bytes")
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SafeFilename(`a/b\c`))
	assert.Equal(t, "say _hi_", SafeFilename(`say "hi"`))
	assert.Equal(t, "tab", SafeFilename("t\tab"))
	assert.Equal(t, "video", SafeFilename("  "))
}
