package preview

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/clipper/internal/cache"
	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/internal/provider"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipper/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipper/internal/workspace"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// preferredHeight is the lowest height picked when a taller format exists
const preferredHeight = 360

// InfoSource returns the provider's raw format list for a URL
type InfoSource interface {
	RawInfo(ctx context.Context, url string) (*provider.RawInfo, error)
}

// Downloader writes a provider format to a local file
type Downloader interface {
	Download(ctx context.Context, req provider.DownloadRequest) error
}

// FrameExtractor probes a video and grabs single frames from it
type FrameExtractor interface {
	ProbeDuration(ctx context.Context, inputPath string) (float64, error)
	ExtractFrame(ctx context.Context, opts transcoder.FrameOptions) ([]byte, error)
}

// Config holds thumbnail strip settings
type Config struct {
	CacheDir        string
	ThumbnailCount  int
	ThumbnailHeight int
	JPEGQuality     int
	Concurrency     int
	DownloadTimeout time.Duration
}

// Preparer downloads a low-cost rendition of a video, cuts a thumbnail strip
// from it and hands the file to the video cache for preview streaming
type Preparer struct {
	cfg        Config
	info       InfoSource
	downloader Downloader
	frames     FrameExtractor
	cache      *cache.VideoCache
	workspaces *workspace.Manager
	logger     *logging.Logger
}

// New creates a Preparer
func New(cfg Config, info InfoSource, downloader Downloader, frames FrameExtractor, videoCache *cache.VideoCache, workspaces *workspace.Manager, logger *logging.Logger) *Preparer {
	if cfg.ThumbnailCount <= 0 {
		cfg.ThumbnailCount = 20
	}
	if cfg.ThumbnailHeight <= 0 {
		cfg.ThumbnailHeight = 90
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Preparer{
		cfg:        cfg,
		info:       info,
		downloader: downloader,
		frames:     frames,
		cache:      videoCache,
		workspaces: workspaces,
		logger:     logger.WithComponent("preview"),
	}
}

// Prepare builds the thumbnail strip for url and caches the downloaded video
func (p *Preparer) Prepare(ctx context.Context, url string) (set *models.ThumbnailSet, err error) {
	span, ctx := tracing.StartSpan(ctx, "preview.prepare")
	defer func() {
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
	}()

	p.cache.Sweep()

	info, err := p.info.RawInfo(ctx, url)
	if err != nil {
		return nil, err
	}

	format, ok := SelectFormat(info.Formats)
	if !ok {
		return nil, models.NewValidationError("prepare preview", "no suitable video format")
	}

	logger := p.logger.WithURL(url).WithFields(map[string]interface{}{
		"format_id": format.FormatID,
		"ext":       format.Ext,
		"height":    format.Height,
	})
	logger.Info("Selected preview format")

	ws, err := p.workspaces.Create("preview")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer ws.Remove()

	ext := format.Ext
	if !format.HasAudio() {
		ext = "mp4"
	}
	name := "source." + ext
	if err := p.download(ctx, ws, url, format, name); err != nil {
		logger.ErrorWithErr("Preview download failed", err)
		return nil, err
	}

	source := ws.Path(name)
	duration, err := p.frames.ProbeDuration(ctx, source)
	if err != nil {
		if models.KindOf(err) == models.KindInternal {
			err = models.NewTranscodeError("probe", "failed to read video duration", err)
		}
		return nil, err
	}

	thumbnails, err := p.thumbnails(ctx, source, duration, logger)
	if err != nil {
		return nil, err
	}

	cached := filepath.Join(p.cfg.CacheDir, uuid.New().String()+"."+ext)
	if err := ws.Detach(name, cached); err != nil {
		return nil, fmt.Errorf("failed to move video into cache: %w", err)
	}
	p.cache.Put(url, cached)

	logger.WithField("thumbnails", len(thumbnails)).Info("Preview prepared")
	return &models.ThumbnailSet{Thumbnails: thumbnails, Duration: duration}, nil
}

func (p *Preparer) download(ctx context.Context, ws *workspace.Workspace, url string, format provider.RawFormat, name string) error {
	if p.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DownloadTimeout)
		defer cancel()
	}

	err := p.downloader.Download(ctx, provider.DownloadRequest{
		URL:        url,
		FormatID:   format.FormatID,
		MergeAudio: !format.HasAudio(),
		Output:     ws.Path(name),
	})
	if err != nil {
		return models.NewSourceFetchError("download preview", "failed to download video", err)
	}

	stat, err := ws.Fs().Stat(ws.Path(name))
	if err != nil {
		return models.NewSourceFetchError("download preview", "video download failed - file not found", err)
	}
	if stat.Size() == 0 {
		return models.NewSourceFetchError("download preview", "downloaded video file is empty", nil)
	}
	metrics.RecordSourceBytes("preview", stat.Size())
	return nil
}

// thumbnails extracts evenly spaced frames. Frames that fail are skipped;
// only an empty strip is an error.
func (p *Preparer) thumbnails(ctx context.Context, source string, duration float64, logger *logging.Logger) ([]string, error) {
	count := p.cfg.ThumbnailCount
	frames := make([][]byte, count)

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i := 0; i < count; i++ {
		i := i
		at := duration * float64(i) / float64(count)
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			data, err := p.frames.ExtractFrame(ctx, transcoder.FrameOptions{
				InputPath: source,
				At:        at,
				Height:    p.cfg.ThumbnailHeight,
				Quality:   p.cfg.JPEGQuality,
			})
			if err != nil {
				logger.WithField("position", at).WarnWithErr("Frame extraction failed", err)
				return nil
			}
			frames[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	thumbnails := make([]string, 0, count)
	for _, data := range frames {
		if len(data) > 0 {
			thumbnails = append(thumbnails, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(data))
		}
	}
	metrics.RecordThumbnails(len(thumbnails), count-len(thumbnails))

	if len(thumbnails) == 0 {
		return nil, models.NewTranscodeError("thumbnails", "failed to generate any thumbnails", nil)
	}
	return thumbnails, nil
}

// SelectFormat picks the preview rendition: an mp4 or webm video format,
// at least 360p when one exists, with the smallest known file size. Unknown
// sizes lose to known ones; ties keep the earlier format.
func SelectFormat(formats []provider.RawFormat) (provider.RawFormat, bool) {
	var candidates []provider.RawFormat
	for _, f := range formats {
		if (f.Ext == "mp4" || f.Ext == "webm") && f.HasVideo() && !f.IsStoryboard() {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return provider.RawFormat{}, false
	}

	var tall []provider.RawFormat
	for _, f := range candidates {
		if f.Height >= preferredHeight {
			tall = append(tall, f)
		}
	}
	if len(tall) > 0 {
		candidates = tall
	}

	best := candidates[0]
	for _, f := range candidates[1:] {
		if sizeOrInf(f) < sizeOrInf(best) {
			best = f
		}
	}
	return best, true
}

func sizeOrInf(f provider.RawFormat) int64 {
	if f.FileSize == nil || *f.FileSize <= 0 {
		return math.MaxInt64
	}
	return *f.FileSize
}
