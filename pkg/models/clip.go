package models

import (
	"fmt"
	"io"
	"math"
	"time"
)

// DefaultMaxClipDuration is the longest clip the service produces
const DefaultMaxClipDuration = 15 * time.Second

// MinClipDuration is the shortest window ffmpeg can express at millisecond precision
const MinClipDuration = time.Millisecond

// TrimMode selects how the transcoder cuts a clip
type TrimMode string

const (
	// TrimModeCopy cuts without re-encoding; boundaries snap to keyframes
	TrimModeCopy TrimMode = "copy"
	// TrimModeReencode re-encodes to H.264/AAC for frame-accurate boundaries
	TrimModeReencode TrimMode = "reencode"
)

// ParseTrimMode parses a configured trim mode
func ParseTrimMode(s string) (TrimMode, error) {
	switch TrimMode(s) {
	case TrimModeCopy, "":
		return TrimModeCopy, nil
	case TrimModeReencode:
		return TrimModeReencode, nil
	default:
		return "", fmt.Errorf("unknown trim mode %q", s)
	}
}

// ClipRequest describes a clip to cut from a remote video or from uploaded bytes
type ClipRequest struct {
	SourceURL string
	FormatID  string
	Upload    io.Reader
	StartTime float64
	EndTime   float64
}

// Remote reports whether the source is resolved through a provider
func (r ClipRequest) Remote() bool {
	return r.Upload == nil
}

// Duration returns EndTime - StartTime as a time.Duration
func (r ClipRequest) Duration() time.Duration {
	return time.Duration((r.EndTime - r.StartTime) * float64(time.Second))
}

// Validate checks the time window. A non-positive maxDuration disables the cap.
func (r ClipRequest) Validate(maxDuration time.Duration) error {
	if !isFinite(r.StartTime) || !isFinite(r.EndTime) {
		return NewValidationError("validate clip", "start and end time must be finite numbers")
	}
	if r.StartTime < 0 {
		return NewValidationError("validate clip", "start time must not be negative")
	}
	span := r.EndTime - r.StartTime
	if span <= 0 {
		return NewValidationError("validate clip", "end time must be greater than start time")
	}
	if span < MinClipDuration.Seconds() {
		return NewValidationError("validate clip",
			fmt.Sprintf("clip must be at least %g seconds long", MinClipDuration.Seconds()))
	}
	if maxDuration > 0 && span > maxDuration.Seconds() {
		return NewValidationError("validate clip",
			fmt.Sprintf("maximum clip duration is %g seconds", maxDuration.Seconds()))
	}
	if r.Remote() {
		if r.SourceURL == "" {
			return NewValidationError("validate clip", "url is required")
		}
		if r.FormatID == "" {
			return NewValidationError("validate clip", "format id is required")
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
