package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Provider   ProviderConfig
	Fetch      FetchConfig
	Transcoder TranscoderConfig
	Clip       ClipConfig
	Cache      CacheConfig
	Preview    PreviewConfig
	Redis      RedisConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// ProviderConfig holds video-info provider configuration
type ProviderConfig struct {
	Backend         string // auto, ytdlp, youtube
	YtDlpPath       string
	Timeout         time.Duration
	DownloadTimeout time.Duration
}

// FetchConfig holds direct media fetch configuration
type FetchConfig struct {
	UserAgent     string
	Attempts      int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxBytes      int64
}

// TranscoderConfig holds ffmpeg configuration
type TranscoderConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	Timeout     time.Duration
}

// ClipConfig holds clip extraction policy
type ClipConfig struct {
	MaxDuration time.Duration
	Mode        string // copy, reencode
}

// CacheConfig holds video cache configuration
type CacheConfig struct {
	Dir           string
	TTL           time.Duration
	SweepInterval time.Duration
}

// PreviewConfig holds preview preparation configuration
type PreviewConfig struct {
	ThumbnailCount  int
	ThumbnailHeight int
	JPEGQuality     int
	Concurrency     int
}

// RedisConfig holds Redis configuration for the format info cache
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	InfoTTL  time.Duration
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// Load reads configuration from an optional YAML file and CLIPPER_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("clipper")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	switch c.Provider.Backend {
	case "auto", "ytdlp", "youtube":
	default:
		return fmt.Errorf("invalid provider.backend %q", c.Provider.Backend)
	}
	switch c.Clip.Mode {
	case "copy", "reencode":
	default:
		return fmt.Errorf("invalid clip.mode %q", c.Clip.Mode)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.Preview.ThumbnailCount <= 0 {
		return fmt.Errorf("preview.thumbnailCount must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "10m")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.maxUploadBytes", 200*1024*1024) // 200MB

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Provider defaults
	v.SetDefault("provider.backend", "auto")
	v.SetDefault("provider.ytDlpPath", "yt-dlp")
	v.SetDefault("provider.timeout", "60s")
	v.SetDefault("provider.downloadTimeout", "10m")

	// Fetch defaults
	v.SetDefault("fetch.userAgent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("fetch.attempts", 3)
	v.SetDefault("fetch.retryDelay", "2s")
	v.SetDefault("fetch.maxRetryDelay", "30s")
	v.SetDefault("fetch.maxBytes", 2*1024*1024*1024) // 2GB

	// Transcoder defaults
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.tempDir", os.TempDir())
	v.SetDefault("transcoder.timeout", "2m")

	// Clip defaults
	v.SetDefault("clip.maxDuration", "15s")
	v.SetDefault("clip.mode", "copy")

	// Cache defaults
	v.SetDefault("cache.dir", os.TempDir()+"/clipper-cache")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.sweepInterval", "0s")

	// Preview defaults
	v.SetDefault("preview.thumbnailCount", 20)
	v.SetDefault("preview.thumbnailHeight", 90)
	v.SetDefault("preview.jpegQuality", 5)
	v.SetDefault("preview.concurrency", 4)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.infoTTL", "5m")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "clipper")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.rps", 5)
	v.SetDefault("rateLimit.burst", 10)
}
