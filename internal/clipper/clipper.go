package clipper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/clipper/internal/fetcher"
	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/internal/provider"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipper/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipper/internal/workspace"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// Source labels for metrics
const (
	SourceRemote = "remote"
	SourceUpload = "upload"
)

// Trimmer cuts a time range out of a media file
type Trimmer interface {
	Trim(ctx context.Context, opts transcoder.TrimOptions) error
}

// FormatLookup resolves a format id of a video URL
type FormatLookup interface {
	Lookup(ctx context.Context, url, formatID string) (*models.FormatDescriptor, string, error)
}

// Invalidator is implemented by lookups that memoise format lists and can
// forget one whose direct URLs have expired
type Invalidator interface {
	Invalidate(ctx context.Context, url string)
}

// Downloader writes a provider format to a local file
type Downloader interface {
	Download(ctx context.Context, req provider.DownloadRequest) error
}

// Fetcher streams a direct media URL
type Fetcher interface {
	Fetch(ctx context.Context, url string, dst io.Writer) (int64, error)
}

// Config holds clip policy
type Config struct {
	MaxDuration     time.Duration
	Mode            models.TrimMode
	DownloadTimeout time.Duration
}

// Extractor produces short clips from remote videos or uploaded bytes
type Extractor struct {
	cfg        Config
	lookup     FormatLookup
	downloader Downloader
	fetcher    Fetcher
	trimmer    Trimmer
	workspaces *workspace.Manager
	logger     *logging.Logger
}

// New creates an Extractor
func New(cfg Config, lookup FormatLookup, downloader Downloader, fetcher Fetcher, trimmer Trimmer, workspaces *workspace.Manager, logger *logging.Logger) *Extractor {
	if cfg.Mode == "" {
		cfg.Mode = models.TrimModeCopy
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Extractor{
		cfg:        cfg,
		lookup:     lookup,
		downloader: downloader,
		fetcher:    fetcher,
		trimmer:    trimmer,
		workspaces: workspaces,
		logger:     logger.WithComponent("clipper"),
	}
}

// Clip is a finished clip. Closing it deletes the workspace it was cut in.
type Clip struct {
	file     afero.File
	ws       *workspace.Workspace
	Filename string
	Size     int64
	ModTime  time.Time
}

// Read reads clip bytes
func (c *Clip) Read(p []byte) (int, error) {
	return c.file.Read(p)
}

// Seek lets the clip be served with http.ServeContent
func (c *Clip) Seek(offset int64, whence int) (int64, error) {
	return c.file.Seek(offset, whence)
}

// Close releases the file and removes the workspace
func (c *Clip) Close() error {
	closeErr := c.file.Close()
	if err := c.ws.Remove(); err != nil {
		return err
	}
	return closeErr
}

// Extract validates req, obtains the source, trims it and returns the clip.
// The request's workspace is removed on every error path.
func (e *Extractor) Extract(ctx context.Context, req models.ClipRequest) (clip *Clip, err error) {
	source := SourceRemote
	if !req.Remote() {
		source = SourceUpload
	}

	span, ctx := tracing.StartSpan(ctx, "clipper.extract")
	tracing.SetTag(span, "source", source)
	defer func() {
		metrics.RecordClip(source, err)
		tracing.LogError(span, err)
		tracing.FinishSpan(span)
	}()

	if err := req.Validate(e.cfg.MaxDuration); err != nil {
		return nil, err
	}

	logger := e.logger.WithFields(map[string]interface{}{
		"source":     source,
		"start_time": req.StartTime,
		"end_time":   req.EndTime,
	})

	filename := "clip.mp4"
	var desc *models.FormatDescriptor
	if req.Remote() {
		logger = logger.WithURL(req.SourceURL).WithField("format_id", req.FormatID)
		var title string
		desc, title, err = e.lookup.Lookup(ctx, req.SourceURL, req.FormatID)
		if err != nil {
			return nil, err
		}
		filename = SafeFilename(title) + "_clip.mp4"
	}

	ws, err := e.workspaces.Create("clip")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	defer func() {
		if err != nil {
			ws.Remove()
		}
	}()

	var sourcePath string
	if req.Remote() {
		sourcePath, err = e.fetchRemote(ctx, ws, req, desc, logger)
	} else {
		sourcePath, err = e.copyUpload(ws, req.Upload)
	}
	if err != nil {
		return nil, err
	}

	output := ws.Path("clip.mp4")
	opts := transcoder.TrimOptions{
		InputPath:  sourcePath,
		OutputPath: output,
		Start:      req.StartTime,
		Duration:   req.EndTime - req.StartTime,
		Mode:       e.cfg.Mode,
	}
	if err = e.trimmer.Trim(ctx, opts); err != nil {
		if models.KindOf(err) == models.KindInternal {
			err = models.NewTranscodeError("trim", "failed to trim video", err)
		}
		logger.ErrorWithErr("Clip trim failed", err)
		return nil, err
	}

	file, err := ws.Fs().Open(output)
	if err != nil {
		return nil, models.NewTranscodeError("trim", "output file not found", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, models.NewTranscodeError("trim", "output file not found", err)
	}

	logger.WithField("bytes", info.Size()).Info("Clip extracted")
	return &Clip{
		file:     file,
		ws:       ws,
		Filename: filename,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}, nil
}

// fetchRemote fetches the chosen format into the workspace. Progressive
// formats with a plain URL are streamed directly; everything else, and any
// direct fetch that fails, goes through the provider.
func (e *Extractor) fetchRemote(ctx context.Context, ws *workspace.Workspace, req models.ClipRequest, desc *models.FormatDescriptor, logger *logging.Logger) (string, error) {
	if e.cfg.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DownloadTimeout)
		defer cancel()
	}

	if desc.DirectURL != "" && desc.HasAudio && desc.HasVideo && e.fetcher != nil {
		path := ws.Path("source." + extOrDefault(desc.Container))
		n, err := e.fetchDirect(ctx, ws.Fs(), desc.DirectURL, path)
		if err == nil {
			metrics.RecordSourceBytes(SourceRemote, n)
			return path, nil
		}
		if ctx.Err() != nil {
			return "", models.NewSourceFetchError("fetch source", "failed to download video", err)
		}
		if inv, ok := e.lookup.(Invalidator); ok && errors.Is(err, fetcher.ErrURLExpired) {
			inv.Invalidate(ctx, req.SourceURL)
		}
		logger.WarnWithErr("Direct fetch failed, falling back to provider download", err)
	}

	path := ws.Path("source.mp4")
	err := e.downloader.Download(ctx, provider.DownloadRequest{
		URL:        req.SourceURL,
		FormatID:   req.FormatID,
		MergeAudio: !desc.HasAudio,
		Output:     path,
	})
	if err != nil {
		return "", models.NewSourceFetchError("download source", "failed to download video", err)
	}

	info, err := ws.Fs().Stat(path)
	if err != nil {
		return "", models.NewSourceFetchError("download source", "downloaded file not found", err)
	}
	if info.Size() == 0 {
		return "", models.NewSourceFetchError("download source", "downloaded file is empty", nil)
	}
	metrics.RecordSourceBytes(SourceRemote, info.Size())
	return path, nil
}

func (e *Extractor) fetchDirect(ctx context.Context, fs afero.Fs, url, path string) (int64, error) {
	file, err := fs.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := e.fetcher.Fetch(ctx, url, file)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("empty response body")
	}
	return n, err
}

func (e *Extractor) copyUpload(ws *workspace.Workspace, upload io.Reader) (string, error) {
	path := ws.Path("source.bin")
	file, err := ws.Fs().Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	n, err := io.Copy(file, upload)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		return "", fmt.Errorf("failed to write upload file: %w", closeErr)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", models.NewValidationError("read upload",
				fmt.Sprintf("uploaded file exceeds %d bytes", tooLarge.Limit))
		}
		return "", models.NewSourceFetchError("read upload", "failed to read uploaded file", err)
	}
	if n == 0 {
		return "", models.NewValidationError("read upload", "uploaded file is empty")
	}
	metrics.RecordSourceBytes(SourceUpload, n)
	return path, nil
}

// SafeFilename makes a video title usable inside a Content-Disposition header
func SafeFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == '"':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		return "video"
	}
	return name
}

func extOrDefault(ext string) string {
	if ext == "" || ext == "unknown" {
		return "mp4"
	}
	return ext
}
