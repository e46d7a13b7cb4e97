package provider

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
)

// YouTube extracts and downloads youtube.com videos natively
type YouTube struct {
	client youtube.Client
	muxer  Muxer
	logger *logging.Logger
}

// NewYouTube creates a YouTube backend. muxer joins video-only streams with audio.
func NewYouTube(httpClient *http.Client, muxer Muxer, logger *logging.Logger) *YouTube {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &YouTube{
		client: youtube.Client{HTTPClient: httpClient},
		muxer:  muxer,
		logger: logger.WithComponent("youtube"),
	}
}

// Name returns the backend name
func (y *YouTube) Name() string {
	return "youtube"
}

// Match accepts watch, shorts and short-link YouTube URLs
func (y *YouTube) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	_, err = extractVideoID(u)
	return err == nil
}

// Extract fetches video metadata and converts every stream to a RawFormat
func (y *YouTube) Extract(ctx context.Context, rawURL string) (*RawInfo, error) {
	video, err := y.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	return convertVideo(video), nil
}

// Download streams the itag named by req.FormatID to req.Output
func (y *YouTube) Download(ctx context.Context, req DownloadRequest) error {
	video, err := y.client.GetVideoContext(ctx, req.URL)
	if err != nil {
		return fmt.Errorf("failed to get video info: %w", err)
	}

	format, ok := findItag(video.Formats, req.FormatID)
	if !ok {
		return fmt.Errorf("format %s not offered for video %s", req.FormatID, video.ID)
	}

	if format.AudioChannels > 0 || !req.MergeAudio {
		return y.saveStream(ctx, video, format, req.Output)
	}

	audio, ok := bestAudio(video.Formats)
	if !ok || y.muxer == nil {
		y.logger.Warnf("no audio stream to merge for %s, saving video only", video.ID)
		return y.saveStream(ctx, video, format, req.Output)
	}

	videoPath := req.Output + ".video"
	audioPath := req.Output + ".audio"
	defer os.Remove(videoPath)
	defer os.Remove(audioPath)

	if err := y.saveStream(ctx, video, format, videoPath); err != nil {
		return err
	}
	if err := y.saveStream(ctx, video, audio, audioPath); err != nil {
		return err
	}
	if err := y.muxer.Mux(ctx, videoPath, audioPath, req.Output); err != nil {
		return fmt.Errorf("failed to merge audio: %w", err)
	}
	return nil
}

func (y *YouTube) saveStream(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) error {
	stream, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	written, err := io.Copy(file, stream)
	if err != nil {
		return fmt.Errorf("failed to save stream: %w", err)
	}
	if size > 0 && written != size {
		return fmt.Errorf("short stream for itag %d: got %d of %d bytes", format.ItagNo, written, size)
	}
	return file.Close()
}

func convertVideo(video *youtube.Video) *RawInfo {
	info := &RawInfo{
		ID:        video.ID,
		Title:     video.Title,
		Duration:  video.Duration.Seconds(),
		Extractor: "youtube",
		Formats:   make([]RawFormat, 0, len(video.Formats)),
	}
	for _, f := range video.Formats {
		info.Formats = append(info.Formats, convertFormat(f))
	}
	return info
}

func convertFormat(f youtube.Format) RawFormat {
	mediaType, params, err := mime.ParseMediaType(f.MimeType)
	if err != nil {
		mediaType = strings.SplitN(f.MimeType, ";", 2)[0]
	}
	var codecs []string
	for _, c := range strings.Split(params["codecs"], ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}

	raw := RawFormat{
		FormatID:   strconv.Itoa(f.ItagNo),
		Ext:        containerFor(mediaType),
		VCodec:     "none",
		ACodec:     "none",
		Width:      f.Width,
		Height:     f.Height,
		FormatNote: f.QualityLabel,
		URL:        f.URL,
		Protocol:   "https",
	}

	isAudioOnly := strings.HasPrefix(mediaType, "audio/")
	switch {
	case isAudioOnly && len(codecs) > 0:
		raw.ACodec = codecs[0]
	case !isAudioOnly && len(codecs) > 0:
		raw.VCodec = codecs[0]
		if f.AudioChannels > 0 {
			raw.ACodec = "unknown"
			if len(codecs) > 1 {
				raw.ACodec = codecs[1]
			}
		}
	}
	if f.ContentLength > 0 {
		size := f.ContentLength
		raw.FileSize = &size
	}
	return raw
}

func containerFor(mediaType string) string {
	switch mediaType {
	case "video/mp4":
		return "mp4"
	case "audio/mp4":
		return "m4a"
	case "video/webm", "audio/webm":
		return "webm"
	case "video/3gpp":
		return "3gp"
	}
	if i := strings.IndexByte(mediaType, '/'); i >= 0 {
		return mediaType[i+1:]
	}
	return "unknown"
}

func findItag(formats youtube.FormatList, formatID string) (*youtube.Format, bool) {
	for i := range formats {
		if strconv.Itoa(formats[i].ItagNo) == formatID {
			return &formats[i], true
		}
	}
	return nil, false
}

// bestAudio picks the highest bitrate audio-only stream, preferring mp4 audio
func bestAudio(formats youtube.FormatList) (*youtube.Format, bool) {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Width > 0 || !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil {
			best = f
			continue
		}
		fMP4 := strings.HasPrefix(f.MimeType, "audio/mp4")
		bestMP4 := strings.HasPrefix(best.MimeType, "audio/mp4")
		if fMP4 != bestMP4 {
			if fMP4 {
				best = f
			}
			continue
		}
		if f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best, best != nil
}

// extractVideoID pulls the video id out of a YouTube URL.
//
// Allowed URL formats:
//
//	http(s)://(www|m|music.)youtube.com/watch?v={VIDEO_ID}
//	http(s)://(www|m.)youtube.com/(v|shorts|embed)/{VIDEO_ID}
//	http(s)://youtu.be/{VIDEO_ID}
func extractVideoID(u *url.URL) (string, error) {
	var id string
	switch strings.ToLower(u.Hostname()) {
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com":
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 3)
		switch {
		case len(parts) >= 2 && (parts[0] == "v" || parts[0] == "shorts" || parts[0] == "embed"):
			id = parts[1]
		case u.Path == "/watch" || u.Path == "/details":
			if !u.Query().Has("v") {
				return "", fmt.Errorf("missing ?v= query parameter")
			}
			id = u.Query().Get("v")
		}
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	default:
		return "", fmt.Errorf("unrecognised hostname")
	}
	if id == "" {
		return "", fmt.Errorf("could not extract video ID")
	}
	return id, nil
}
