package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
)

// Backend names accepted by NewRegistry
const (
	BackendAuto    = "auto"
	BackendYtDlp   = "ytdlp"
	BackendYouTube = "youtube"
)

// Registry dispatches to the first backend that accepts a URL and falls back
// to the next matching backend when one fails
type Registry struct {
	providers []Provider
	logger    *logging.Logger
}

// NewRegistry builds the backend chain selected by name
func NewRegistry(backend string, ytdlp *YtDlp, yt *YouTube, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var providers []Provider
	useYouTube := backend == BackendAuto || backend == "" || backend == BackendYouTube
	useYtDlp := backend == BackendAuto || backend == "" || backend == BackendYtDlp
	if !useYouTube && !useYtDlp {
		return nil, fmt.Errorf("unknown provider backend %q", backend)
	}
	if useYouTube && yt != nil {
		providers = append(providers, yt)
	}
	if useYtDlp && ytdlp != nil {
		providers = append(providers, ytdlp)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("provider backend %q is not available", backend)
	}
	return NewRegistryOf(logger, providers...), nil
}

// NewRegistryOf builds a registry over an explicit backend chain
func NewRegistryOf(logger *logging.Logger, providers ...Provider) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	chain := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			chain = append(chain, p)
		}
	}
	return &Registry{providers: chain, logger: logger.WithComponent("provider")}
}

// Name returns the registry name
func (r *Registry) Name() string {
	return "registry"
}

// Match reports whether any backend accepts rawURL
func (r *Registry) Match(rawURL string) bool {
	return len(r.matching(rawURL)) > 0
}

// Extract runs extraction on matching backends until one succeeds
func (r *Registry) Extract(ctx context.Context, rawURL string) (*RawInfo, error) {
	span, ctx := tracing.StartSpan(ctx, "provider.extract")
	defer tracing.FinishSpan(span)

	var info *RawInfo
	err := r.each(ctx, rawURL, "extract", func(p Provider) error {
		var err error
		info, err = p.Extract(ctx, rawURL)
		return err
	})
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	tracing.SetTag(span, "formats", len(info.Formats))
	return info, nil
}

// Download runs the download on matching backends until one succeeds
func (r *Registry) Download(ctx context.Context, req DownloadRequest) error {
	span, ctx := tracing.StartSpan(ctx, "provider.download")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "format_id", req.FormatID)

	err := r.each(ctx, req.URL, "download", func(p Provider) error {
		return p.Download(ctx, req)
	})
	tracing.LogError(span, err)
	return err
}

func (r *Registry) each(ctx context.Context, rawURL, op string, fn func(Provider) error) error {
	candidates := r.matching(rawURL)
	if len(candidates) == 0 {
		return ErrNoProvider
	}

	var result *multierror.Error
	for _, p := range candidates {
		start := time.Now()
		err := fn(p)
		metrics.RecordProviderCall(p.Name(), op, time.Since(start).Seconds(), err)
		if err == nil {
			return nil
		}

		result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		r.logger.WithURL(rawURL).WarnWithErr(op+" failed on "+p.Name(), err)
	}

	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result.ErrorOrNil()
}

func (r *Registry) matching(rawURL string) []Provider {
	var out []Provider
	for _, p := range r.providers {
		if p.Match(rawURL) {
			out = append(out, p)
		}
	}
	return out
}
