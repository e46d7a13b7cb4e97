package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create temporary config file
	content := `
server:
  port: 9090
  host: "127.0.0.1"

clip:
  maxDuration: 30s
  mode: reencode

cache:
  ttl: 15m
  sweepInterval: 1m

provider:
  backend: ytdlp
  ytDlpPath: /usr/local/bin/yt-dlp
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Clip.MaxDuration)
	assert.Equal(t, "reencode", cfg.Clip.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, time.Minute, cfg.Cache.SweepInterval)
	assert.Equal(t, "ytdlp", cfg.Provider.Backend)
	assert.Equal(t, "/usr/local/bin/yt-dlp", cfg.Provider.YtDlpPath)

	// Untouched sections keep their defaults
	assert.Equal(t, 20, cfg.Preview.ThumbnailCount)
	assert.Equal(t, "ffmpeg", cfg.Transcoder.FFmpegPath)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Clip.MaxDuration)
	assert.Equal(t, "copy", cfg.Clip.Mode)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, time.Duration(0), cfg.Cache.SweepInterval)
	assert.Equal(t, "auto", cfg.Provider.Backend)
	assert.Equal(t, 90, cfg.Preview.ThumbnailHeight)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.InfoTTL)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CLIPPER_SERVER_PORT", "7070")
	t.Setenv("CLIPPER_CLIP_MODE", "reencode")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "reencode", cfg.Clip.Mode)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown backend", content: "provider:\n  backend: vimeo\n"},
		{name: "unknown clip mode", content: "clip:\n  mode: lossless\n"},
		{name: "zero ttl", content: "cache:\n  ttl: 0s\n"},
		{name: "malformed yaml", content: "server: [port\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
