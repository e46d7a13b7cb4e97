package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/clipper/internal/cache"
	"github.com/therealutkarshpriyadarshi/clipper/internal/clipper"
	"github.com/therealutkarshpriyadarshi/clipper/internal/config"
	"github.com/therealutkarshpriyadarshi/clipper/internal/fetcher"
	"github.com/therealutkarshpriyadarshi/clipper/internal/infocache"
	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/middleware"
	"github.com/therealutkarshpriyadarshi/clipper/internal/preview"
	"github.com/therealutkarshpriyadarshi/clipper/internal/provider"
	"github.com/therealutkarshpriyadarshi/clipper/internal/resolver"
	"github.com/therealutkarshpriyadarshi/clipper/internal/stream"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipper/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipper/internal/workspace"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "clipper",
		Short:        "Video format discovery, clipping and preview service",
		SilenceUsage: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	formats := &cobra.Command{
		Use:   "formats URL",
		Short: "Print the distinct formats of a video URL as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormats(cmd.Context(), configPath, args[0], cmd.OutOrStdout())
		},
	}

	root.RunE = serve.RunE
	root.AddCommand(serve, formats)
	return root
}

// services is the wired object graph shared by the server and the CLI
type services struct {
	resolver   *resolver.Resolver
	clips      *clipper.Extractor
	previews   *preview.Preparer
	streams    *stream.Server
	videoCache *cache.VideoCache
	closers    []io.Closer
}

func (s *services) Close(logger *logging.Logger) {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			logger.WarnWithErr("Failed to close resource", err)
		}
	}
}

func buildServices(cfg *config.Config, logger *logging.Logger) (*services, error) {
	s := &services{}

	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, tracerCloser)

	// Redis is optional; without it every resolve goes to the provider
	var infoCache resolver.InfoCache
	if cfg.Redis.Enabled {
		rc, err := infocache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.InfoTTL)
		if err != nil {
			logger.WarnWithErr("Format info cache unavailable, continuing without it", err)
		} else {
			infoCache = rc
			s.closers = append(s.closers, rc)
			logger.Info("Format info cache connected")
		}
	}

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, cfg.Transcoder.Timeout, logger)
	ytdlp := provider.NewYtDlp(cfg.Provider.YtDlpPath, cfg.Provider.Timeout, cfg.Provider.DownloadTimeout, logger)
	yt := provider.NewYouTube(nil, ffmpeg, logger)

	registry, err := provider.NewRegistry(cfg.Provider.Backend, ytdlp, yt, logger)
	if err != nil {
		return nil, err
	}
	s.resolver = resolver.New(registry, infoCache, logger)

	fs := afero.NewOsFs()
	workspaces, err := workspace.NewManager(fs, filepath.Join(cfg.Transcoder.TempDir, "clipper-work"), logger)
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	s.videoCache = cache.New(fs, cfg.Cache.TTL, cache.WithLogger(logger))

	mode, err := models.ParseTrimMode(cfg.Clip.Mode)
	if err != nil {
		return nil, err
	}

	fetch := fetcher.New(fetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		Attempts:      cfg.Fetch.Attempts,
		RetryDelay:    cfg.Fetch.RetryDelay,
		MaxRetryDelay: cfg.Fetch.MaxRetryDelay,
		MaxBytes:      cfg.Fetch.MaxBytes,
	}, nil, logger)

	s.clips = clipper.New(clipper.Config{
		MaxDuration:     cfg.Clip.MaxDuration,
		Mode:            mode,
		DownloadTimeout: cfg.Provider.DownloadTimeout,
	}, s.resolver, registry, fetch, ffmpeg, workspaces, logger)

	s.previews = preview.New(preview.Config{
		CacheDir:        cfg.Cache.Dir,
		ThumbnailCount:  cfg.Preview.ThumbnailCount,
		ThumbnailHeight: cfg.Preview.ThumbnailHeight,
		JPEGQuality:     cfg.Preview.JPEGQuality,
		Concurrency:     cfg.Preview.Concurrency,
		DownloadTimeout: cfg.Provider.DownloadTimeout,
	}, s.resolver, registry, ffmpeg, s.videoCache, workspaces, logger)

	s.streams = stream.NewServer(s.videoCache, logger)
	return s, nil
}

func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func runFormats(ctx context.Context, configPath, url string, out io.Writer) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(logger)

	info, err := svc.resolver.Resolve(ctx, url)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func runServe(configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg, logger)
	if err != nil {
		logger.ErrorWithErr("Failed to initialize services", err)
		return err
	}
	defer svc.Close(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.videoCache.StartJanitor(ctx, cfg.Cache.SweepInterval)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go limiter.Cleanup(ctx, 10*time.Minute)
	}

	api := &API{
		resolver:       svc.resolver,
		clips:          svc.clips,
		previews:       svc.previews,
		streams:        svc.streams,
		cache:          svc.videoCache,
		maxUploadBytes: cfg.Server.MaxUploadBytes,
		logger:         logger.WithComponent("api"),
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(api, limiter, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errCh:
		logger.ErrorWithErr("Server failed", err)
		return err
	}

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	if err := svc.videoCache.Purge(); err != nil {
		logger.WarnWithErr("Failed to purge video cache", err)
	}

	logger.Info("Server stopped")
	return nil
}
