package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
)

var (
	// ErrURLExpired means the signed media URL was refused and must be re-resolved
	ErrURLExpired = errors.New("media url expired or forbidden")
	// ErrRateLimited means the media host asked us to slow down
	ErrRateLimited = errors.New("rate limited by media host")
	// ErrTooLarge means the body exceeded the configured size cap
	ErrTooLarge = errors.New("media exceeds maximum size")
)

// Config controls retry and size policy
type Config struct {
	UserAgent     string
	Attempts      int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxBytes      int64
}

// Fetcher downloads direct media URLs
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *logging.Logger
}

// New creates a fetcher. A nil client gets one with a response header timeout
// and no overall timeout, so long bodies are bounded only by ctx.
func New(cfg Config, client *http.Client, logger *logging.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Fetcher{client: client, cfg: cfg, logger: logger.WithComponent("fetcher")}
}

// Fetch copies the body of url into dst and returns the number of bytes
// written. Only failures before the first body byte are retried.
func (f *Fetcher) Fetch(ctx context.Context, url string, dst io.Writer) (int64, error) {
	var lastErr error

	for attempt := 0; attempt < f.cfg.Attempts; attempt++ {
		resp, err := f.open(ctx, url)
		if err == nil {
			defer resp.Body.Close()
			return f.copyBody(resp, dst)
		}

		lastErr = err
		if !isRetryableError(err) || attempt == f.cfg.Attempts-1 {
			break
		}

		delay := f.backoff(attempt)
		f.logger.WithURL(url).Warnf("fetch attempt %d failed, retrying in %s: %v", attempt+1, delay, err)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	return 0, fmt.Errorf("fetch failed after retries: %w", lastErr)
}

func (f *Fetcher) open(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", "video/mp4,video/*;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, ErrURLExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if f.cfg.MaxBytes > 0 && resp.ContentLength > f.cfg.MaxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: content length %d", ErrTooLarge, resp.ContentLength)
	}
	return resp, nil
}

func (f *Fetcher) copyBody(resp *http.Response, dst io.Writer) (int64, error) {
	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}

	n, err := io.Copy(dst, body)
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	if f.cfg.MaxBytes > 0 && n > f.cfg.MaxBytes {
		return n, ErrTooLarge
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return n, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	return n, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := f.cfg.RetryDelay * (1 << attempt)
	if f.cfg.MaxRetryDelay > 0 && delay > f.cfg.MaxRetryDelay {
		delay = f.cfg.MaxRetryDelay
	}
	return delay
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server error: %d", e.code)
}

func isRetryableError(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrURLExpired) || errors.Is(err, ErrTooLarge) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return true
	}
	// transport errors (connection reset, DNS) are wrapped by open
	return errors.Is(err, io.ErrUnexpectedEOF) || isTransportError(err)
}

func isTransportError(err error) bool {
	var ue interface{ Timeout() bool }
	return errors.As(err, &ue)
}
