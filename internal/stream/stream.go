package stream

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/clipper/internal/cache"
	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// Stream is an open handle on a cached video
type Stream struct {
	File      afero.File
	Name      string
	ModTime   time.Time
	Size      int64
	ExpiresAt time.Time // when the cache entry stops being served
}

// Close releases the file handle
func (s *Stream) Close() error {
	return s.File.Close()
}

// Server hands out cached videos for range-capable playback
type Server struct {
	cache  *cache.VideoCache
	logger *logging.Logger
}

// NewServer creates a stream server over videoCache
func NewServer(videoCache *cache.VideoCache, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Server{cache: videoCache, logger: logger.WithComponent("stream")}
}

// Open drops expired entries and opens the cached video for url. A URL that
// was never prepared, or has expired, yields a not-cached error.
func (s *Server) Open(ctx context.Context, url string) (*Stream, error) {
	span, _ := tracing.StartSpan(ctx, "stream.open")
	defer tracing.FinishSpan(span)

	s.cache.Sweep()

	file, entry, err := s.cache.Open(url)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		s.logger.WithURL(url).WarnWithErr("Failed to stat cached video", err)
		return nil, models.NewNotCachedError(url)
	}

	return &Stream{
		File:      file,
		Name:      filepath.Base(entry.FilePath),
		ModTime:   info.ModTime(),
		Size:      info.Size(),
		ExpiresAt: entry.FetchedAt.Add(s.cache.TTL()),
	}, nil
}
