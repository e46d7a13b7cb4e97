package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable classification of a failure surfaced to callers
type ErrorKind string

// Error kinds
const (
	KindValidation  ErrorKind = "validation"
	KindResolution  ErrorKind = "resolution"
	KindSourceFetch ErrorKind = "source_fetch"
	KindTranscode   ErrorKind = "transcode"
	KindNotCached   ErrorKind = "not_cached"
	KindCleanup     ErrorKind = "cleanup"
	KindInternal    ErrorKind = "internal"
)

// Error is a classified failure. Msg is safe to show to a client; Err keeps
// the underlying cause for logs.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the client-facing description
func (e *Error) Message() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// NewValidationError reports malformed client input
func NewValidationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

// NewResolutionError reports that the provider could not extract video info
func NewResolutionError(op string, err error) error {
	return &Error{Kind: KindResolution, Op: op, Err: err}
}

// NewSourceFetchError reports that source bytes could not be obtained
func NewSourceFetchError(op, msg string, err error) error {
	return &Error{Kind: KindSourceFetch, Op: op, Msg: msg, Err: err}
}

// NewTranscodeError reports an external transcoder failure
func NewTranscodeError(op, msg string, err error) error {
	return &Error{Kind: KindTranscode, Op: op, Msg: msg, Err: err}
}

// NewNotCachedError reports a preview request for a URL with no live cache entry
func NewNotCachedError(url string) error {
	return &Error{
		Kind: KindNotCached,
		Op:   "open cached video",
		Msg:  "video is not cached, load video information first",
		Err:  fmt.Errorf("no cache entry for %s", url),
	}
}

// NewCleanupError wraps failures to delete expired cache files
func NewCleanupError(err error) error {
	return &Error{Kind: KindCleanup, Op: "cleanup expired cache", Err: err}
}

// KindOf returns the kind of err, or KindInternal when it is unclassified
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ClientMessage returns the message to surface for err
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return "internal server error"
}
