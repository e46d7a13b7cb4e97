package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/provider"
	"github.com/therealutkarshpriyadarshi/clipper/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// InfoCache memoises raw extraction results between requests
type InfoCache interface {
	GetInfo(ctx context.Context, url string) (*provider.RawInfo, error)
	SetInfo(ctx context.Context, url string, info *provider.RawInfo) error
	DeleteInfo(ctx context.Context, url string) error
}

// Resolver turns a video URL into the list of formats a client can pick from
type Resolver struct {
	provider provider.Provider
	cache    InfoCache
	logger   *logging.Logger
}

// New creates a resolver. cache may be nil.
func New(p provider.Provider, cache InfoCache, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{provider: p, cache: cache, logger: logger.WithComponent("resolver")}
}

// Resolve returns the title, duration and the filtered, deduplicated and
// sorted format list for url
func (r *Resolver) Resolve(ctx context.Context, url string) (*models.VideoInfo, error) {
	span, ctx := tracing.StartSpan(ctx, "resolver.resolve")
	defer tracing.FinishSpan(span)

	raw, err := r.RawInfo(ctx, url)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	formats := Normalize(raw.Formats)
	tracing.SetTag(span, "formats", len(formats))
	r.logger.WithURL(url).WithFields(map[string]interface{}{
		"raw_formats": len(raw.Formats),
		"formats":     len(formats),
	}).Info("Resolved formats")

	return &models.VideoInfo{
		Title:    titleOrUnknown(raw.Title),
		Duration: raw.Duration,
		Formats:  formats,
	}, nil
}

// Lookup finds formatID in the unfiltered format list of url and returns its
// descriptor together with the video title
func (r *Resolver) Lookup(ctx context.Context, url, formatID string) (*models.FormatDescriptor, string, error) {
	raw, err := r.RawInfo(ctx, url)
	if err != nil {
		return nil, "", err
	}

	f, ok := raw.FindFormat(formatID)
	if !ok {
		return nil, "", models.NewValidationError("lookup format",
			fmt.Sprintf("format %s is not available for this video", formatID))
	}

	desc := Describe(f)
	return &desc, titleOrUnknown(raw.Title), nil
}

// RawInfo validates url and returns the provider's extraction, consulting the
// info cache first when one is configured
func (r *Resolver) RawInfo(ctx context.Context, url string) (*provider.RawInfo, error) {
	if err := provider.ValidateURL(url); err != nil {
		return nil, models.NewValidationError("resolve", "invalid url: "+err.Error())
	}

	logger := r.logger.WithURL(url)
	if r.cache != nil {
		info, err := r.cache.GetInfo(ctx, url)
		switch {
		case err != nil:
			logger.WarnWithErr("Info cache read failed, falling back to provider", err)
		case info != nil:
			logger.Debug("Info cache hit")
			return info, nil
		}
	}

	info, err := r.provider.Extract(ctx, url)
	if err != nil {
		logger.ErrorWithErr("Format extraction failed", err)
		return nil, models.NewResolutionError("resolve", err)
	}

	if r.cache != nil {
		if err := r.cache.SetInfo(ctx, url, info); err != nil {
			logger.WarnWithErr("Info cache write failed", err)
		}
	}
	return info, nil
}

// Invalidate forgets the memoised extraction for url so the next lookup asks
// the provider again. Signed media URLs expire before the cache entry does.
func (r *Resolver) Invalidate(ctx context.Context, url string) {
	if r.cache == nil {
		return
	}
	logger := r.logger.WithURL(url)
	if err := r.cache.DeleteInfo(ctx, url); err != nil {
		logger.WithError(err).Warn("Info cache invalidation failed")
		return
	}
	logger.Debug("Info cache entry invalidated")
}

// Normalize drops audio-only, storyboard and dimensionless entries, keeps the
// first entry per resolution and sorts by height then file size, descending.
// Entries with an unknown size sort after known sizes of the same height.
func Normalize(raw []provider.RawFormat) []models.FormatDescriptor {
	usable := lo.Filter(raw, func(f provider.RawFormat, _ int) bool {
		return f.HasVideo() && !f.IsStoryboard() && f.Width > 0 && f.Height > 0
	})

	unique := lo.UniqBy(usable, func(f provider.RawFormat) string {
		return models.ResolutionKey(f.Width, f.Height)
	})

	formats := lo.Map(unique, func(f provider.RawFormat, _ int) models.FormatDescriptor {
		return Describe(f)
	})

	sort.SliceStable(formats, func(i, j int) bool {
		if formats[i].Height != formats[j].Height {
			return formats[i].Height > formats[j].Height
		}
		return formats[i].SizeOrUnknown() > formats[j].SizeOrUnknown()
	})

	return formats
}

// Describe converts one raw provider entry to its client-facing descriptor
func Describe(f provider.RawFormat) models.FormatDescriptor {
	desc := models.FormatDescriptor{
		FormatID:   f.FormatID,
		Quality:    models.QualityLabel(f.Height),
		Container:  f.Ext,
		FileSize:   f.FileSize,
		Resolution: models.ResolutionKey(f.Width, f.Height),
		Width:      f.Width,
		Height:     f.Height,
		HasAudio:   f.HasAudio(),
		HasVideo:   f.HasVideo(),
	}
	if desc.Container == "" {
		desc.Container = "unknown"
	}
	if f.DirectlyFetchable() {
		desc.DirectURL = f.URL
	}
	return desc
}

func titleOrUnknown(title string) string {
	if title == "" {
		return "Unknown"
	}
	return title
}
