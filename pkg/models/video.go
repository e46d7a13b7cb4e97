package models

// FormatDescriptor is one distinct encoding/resolution of a source video
type FormatDescriptor struct {
	FormatID   string `json:"format_id"`
	Quality    string `json:"quality"`
	Container  string `json:"ext"`
	FileSize   *int64 `json:"filesize"`
	Resolution string `json:"resolution"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	HasAudio   bool   `json:"has_audio"`
	HasVideo   bool   `json:"-"`
	DirectURL  string `json:"-"`
}

// SizeOrUnknown returns the file size, or -1 when the provider did not report one
func (f FormatDescriptor) SizeOrUnknown() int64 {
	if f.FileSize == nil {
		return -1
	}
	return *f.FileSize
}

// VideoInfo is the result of resolving a source URL
type VideoInfo struct {
	Title    string             `json:"title"`
	Duration float64            `json:"duration"`
	Formats  []FormatDescriptor `json:"formats"`
}

// ThumbnailSet is returned by preview preparation
type ThumbnailSet struct {
	Thumbnails []string `json:"thumbnails"`
	Duration   float64  `json:"duration"`
}
