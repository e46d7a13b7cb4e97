package main

import (
	"context"
	"errors"
	"math"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/clipper/internal/clipper"
	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/middleware"
	"github.com/therealutkarshpriyadarshi/clipper/internal/stream"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

type formatResolver interface {
	Resolve(ctx context.Context, url string) (*models.VideoInfo, error)
}

type clipExtractor interface {
	Extract(ctx context.Context, req models.ClipRequest) (*clipper.Clip, error)
}

type previewPreparer interface {
	Prepare(ctx context.Context, url string) (*models.ThumbnailSet, error)
}

type streamOpener interface {
	Open(ctx context.Context, url string) (*stream.Stream, error)
}

type cacheStats interface {
	Len() int
}

// API holds the request handlers and the services behind them
type API struct {
	resolver       formatResolver
	clips          clipExtractor
	previews       previewPreparer
	streams        streamOpener
	cache          cacheStats
	maxUploadBytes int64
	logger         *logging.Logger
}

type urlRequest struct {
	URL string `json:"url" binding:"required"`
}

type downloadRequest struct {
	URL       string  `json:"url" binding:"required"`
	FormatID  string  `json:"format_id" binding:"required"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"cache_entries": api.cache.Len(),
	})
}

// List the distinct video formats of a URL
func (api *API) getFormats(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.bindError(c, err)
		return
	}

	info, err := api.resolver.Resolve(c.Request.Context(), req.URL)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// Cut a clip out of a remote video and return it as an attachment
func (api *API) downloadClip(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.bindError(c, err)
		return
	}

	clip, err := api.clips.Extract(c.Request.Context(), models.ClipRequest{
		SourceURL: req.URL,
		FormatID:  req.FormatID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer clip.Close()

	serveClip(c, clip)
}

// Build the thumbnail strip for a URL and cache its video for preview
func (api *API) getThumbnails(c *gin.Context) {
	var req urlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.bindError(c, err)
		return
	}

	set, err := api.previews.Prepare(c.Request.Context(), req.URL)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, set)
}

// Stream a cached video; the URL comes from a JSON body or the url query parameter
func (api *API) previewVideo(c *gin.Context) {
	url := c.Query("url")
	if c.Request.Method == http.MethodPost {
		var req urlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			api.bindError(c, err)
			return
		}
		url = req.URL
	}
	if url == "" {
		api.respondError(c, models.NewValidationError("preview", "url is required"))
		return
	}

	st, err := api.streams.Open(c.Request.Context(), url)
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer st.Close()

	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentTypeFor(st.Name))
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": st.Name}))
	if !st.ExpiresAt.IsZero() {
		c.Header("Expires", st.ExpiresAt.UTC().Format(http.TimeFormat))
	}
	http.ServeContent(c.Writer, c.Request, st.Name, st.ModTime, st.File)
}

// Trim an uploaded video
func (api *API) processClip(c *gin.Context) {
	if api.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.maxUploadBytes)
	}

	header, err := c.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.respondError(c, models.NewValidationError("process clip", "uploaded file exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes"))
			return
		}
		api.respondError(c, models.NewValidationError("process clip", "no video file provided"))
		return
	}

	start, err := formFloat(c, "start_time")
	if err != nil {
		api.respondError(c, err)
		return
	}
	end, err := formFloat(c, "end_time")
	if err != nil {
		api.respondError(c, err)
		return
	}

	upload, err := header.Open()
	if err != nil {
		api.respondError(c, models.NewSourceFetchError("process clip", "failed to read uploaded file", err))
		return
	}
	defer upload.Close()

	clip, err := api.clips.Extract(c.Request.Context(), models.ClipRequest{
		Upload:    upload,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer clip.Close()

	if base := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename)); base != "" && base != "." {
		clip.Filename = clipper.SafeFilename(base) + "_clip.mp4"
	}
	serveClip(c, clip)
}

func serveClip(c *gin.Context, clip *clipper.Clip) {
	c.Header("Content-Type", "video/mp4")
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": clip.Filename}))
	http.ServeContent(c.Writer, c.Request, clip.Filename, clip.ModTime, clip)
}

func formFloat(c *gin.Context, key string) (float64, error) {
	raw, ok := c.GetPostForm(key)
	if !ok || raw == "" {
		return 0, models.NewValidationError("process clip", key+" is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, models.NewValidationError("process clip", key+" must be a number")
	}
	return v, nil
}

func contentTypeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "video/mp4"
}

// statusFor maps an error kind to the HTTP status returned to the client
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation, models.KindResolution, models.KindNotCached:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (api *API) respondError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	middleware.SetErrorKind(c, err)

	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		api.logger.WithRequestID(middleware.GetRequestID(c)).ErrorWithErr("Request failed", err)
	}

	c.JSON(status, gin.H{
		"error": models.ClientMessage(err),
		"kind":  kind,
	})
}

func (api *API) bindError(c *gin.Context, err error) {
	c.Set(middleware.ErrorKindKey, string(models.KindValidation))
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  models.KindValidation,
	})
}
