package provider

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrNoProvider is returned when no configured backend accepts a URL
var ErrNoProvider = errors.New("no provider accepts this url")

// RawFormat is one format entry exactly as a backend reported it
type RawFormat struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	VCodec     string `json:"vcodec"`
	ACodec     string `json:"acodec"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	FileSize   *int64 `json:"filesize"`
	FormatNote string `json:"format_note"`
	URL        string `json:"url"`
	Protocol   string `json:"protocol"`
}

// HasVideo reports whether the format carries a video stream
func (f RawFormat) HasVideo() bool {
	return f.VCodec != "none"
}

// HasAudio reports whether the format carries an audio stream. A missing
// codec is treated as present.
func (f RawFormat) HasAudio() bool {
	return f.ACodec != "none"
}

// IsStoryboard reports whether the entry is an image-sheet placeholder
func (f RawFormat) IsStoryboard() bool {
	return f.FormatNote == "storyboard" || f.Ext == "mhtml"
}

// DirectlyFetchable reports whether URL can be downloaded with a plain GET
func (f RawFormat) DirectlyFetchable() bool {
	if f.URL == "" {
		return false
	}
	switch f.Protocol {
	case "", "http", "https":
		return true
	default:
		return false
	}
}

// RawInfo is a backend's extraction result for one video
type RawInfo struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Duration  float64     `json:"duration"`
	Extractor string      `json:"extractor"`
	Formats   []RawFormat `json:"formats"`
}

// FindFormat returns the raw entry with the given format id
func (i *RawInfo) FindFormat(formatID string) (RawFormat, bool) {
	for _, f := range i.Formats {
		if f.FormatID == formatID {
			return f, true
		}
	}
	return RawFormat{}, false
}

// DownloadRequest asks a backend to write one format of a video to Output
type DownloadRequest struct {
	URL      string
	FormatID string
	// MergeAudio adds the best audio stream when the format is video-only
	MergeAudio bool
	Output     string
}

// Provider extracts format metadata and downloads media for a video URL
type Provider interface {
	Name() string
	Match(rawURL string) bool
	Extract(ctx context.Context, rawURL string) (*RawInfo, error)
	Download(ctx context.Context, req DownloadRequest) error
}

// Muxer combines separate video and audio files into one container
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, output string) error
}

// ValidateURL checks that rawURL is an absolute http(s) URL
func ValidateURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	if u.Host == "" {
		return errors.New("url must include a host")
	}
	return nil
}

// lastLines returns the trailing n non-empty lines of tool output, which is
// where yt-dlp and ffmpeg put their error
func lastLines(out string, n int) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			kept = append([]string{line}, kept...)
		}
	}
	return strings.Join(kept, "\n")
}
