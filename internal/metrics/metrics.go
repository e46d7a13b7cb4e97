package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipper_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~3min
		},
		[]string{"method", "endpoint"},
	)

	// Provider Metrics
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_provider_calls_total",
			Help: "Total number of video-info provider calls",
		},
		[]string{"provider", "operation", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipper_provider_call_duration_seconds",
			Help:    "Video-info provider call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"provider", "operation"},
	)

	// Transcoder Metrics
	TranscodeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_transcode_operations_total",
			Help: "Total number of transcoder invocations",
		},
		[]string{"operation", "status"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipper_transcode_duration_seconds",
			Help:    "Transcoder invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"operation"},
	)

	// Clip Metrics
	ClipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_clips_total",
			Help: "Total number of clip extractions",
		},
		[]string{"source", "status"},
	)

	SourceBytesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_source_bytes_fetched_total",
			Help: "Total source media bytes written to workspaces",
		},
		[]string{"source"},
	)

	// Preview Metrics
	ThumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_thumbnails_total",
			Help: "Total number of thumbnail frame extractions",
		},
		[]string{"status"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipper_video_cache_entries",
			Help: "Number of videos currently held by the video cache",
		},
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_video_cache_evictions_total",
			Help: "Total number of video cache evictions",
		},
		[]string{"reason"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipper_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// Cache types
const (
	CacheTypeVideo = "video_file"
	CacheTypeInfo  = "format_info"
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordProviderCall records a provider extraction or download
func RecordProviderCall(provider, operation string, duration float64, err error) {
	ProviderCallsTotal.WithLabelValues(provider, operation, statusLabel(err)).Inc()
	ProviderCallDuration.WithLabelValues(provider, operation).Observe(duration)
}

// RecordTranscode records a transcoder invocation
func RecordTranscode(operation string, duration float64, err error) {
	TranscodeOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	TranscodeDuration.WithLabelValues(operation).Observe(duration)
}

// RecordClip records a clip extraction outcome
func RecordClip(source string, err error) {
	ClipsTotal.WithLabelValues(source, statusLabel(err)).Inc()
}

// RecordSourceBytes records bytes fetched for a source mode
func RecordSourceBytes(source string, n int64) {
	SourceBytesFetched.WithLabelValues(source).Add(float64(n))
}

// RecordThumbnails records thumbnail extraction results
func RecordThumbnails(generated, failed int) {
	ThumbnailsTotal.WithLabelValues("success").Add(float64(generated))
	ThumbnailsTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// SetCacheEntries sets the current number of cached videos
func SetCacheEntries(n int) {
	CacheEntries.Set(float64(n))
}

// RecordCacheEviction records an entry leaving the video cache
func RecordCacheEviction(reason string) {
	CacheEvictionsTotal.WithLabelValues(reason).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
