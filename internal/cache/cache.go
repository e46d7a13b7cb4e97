package cache

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/therealutkarshpriyadarshi/clipper/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipper/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipper/pkg/models"
)

// Eviction reasons reported to metrics
const (
	ReasonExpired  = "expired"
	ReasonReplaced = "replaced"
	ReasonEvicted  = "evicted"
	ReasonPurged   = "purged"
)

// Entry is one cached source video
type Entry struct {
	URL       string    `json:"url"`
	FilePath  string    `json:"file_path"`
	FetchedAt time.Time `json:"fetched_at"`
}

// VideoCache maps source URLs to full video files on disk. The cache owns
// every file it references and deletes it when the entry goes away.
type VideoCache struct {
	fs      afero.Fs
	ttl     time.Duration
	now     func() time.Time
	logger  *logging.Logger
	mu      sync.Mutex
	entries map[string]Entry
}

// Option configures a VideoCache
type Option func(*VideoCache)

// WithClock replaces time.Now, for tests that simulate expiry
func WithClock(now func() time.Time) Option {
	return func(c *VideoCache) {
		c.now = now
	}
}

// WithLogger sets the cache logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *VideoCache) {
		c.logger = logger
	}
}

// New creates an empty cache whose entries live for ttl
func New(fs afero.Fs, ttl time.Duration, opts ...Option) *VideoCache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	c := &VideoCache{
		fs:      fs,
		ttl:     ttl,
		now:     time.Now,
		logger:  logging.NewNopLogger(),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("cache")
	return c
}

// TTL returns how long entries stay fresh
func (c *VideoCache) TTL() time.Duration {
	return c.ttl
}

// Now returns the cache clock's current time
func (c *VideoCache) Now() time.Time {
	return c.now()
}

// Put records path as the video for url, taking ownership of the file. A
// previous file for url is deleted.
func (c *VideoCache) Put(url, path string) {
	entry := Entry{URL: url, FilePath: path, FetchedAt: c.now()}

	c.mu.Lock()
	old, replaced := c.entries[url]
	c.entries[url] = entry
	size := len(c.entries)
	c.mu.Unlock()

	metrics.SetCacheEntries(size)
	c.logger.LogCacheEvent("put", url, path)

	if replaced && old.FilePath != path {
		metrics.RecordCacheEviction(ReasonReplaced)
		if err := c.removeFile(old.FilePath); err != nil {
			c.logger.WithURL(url).WarnWithErr("Failed to delete replaced cache file", err)
		}
	}
}

// Get returns the entry for url. An entry whose file has disappeared is a
// miss and is left in place.
func (c *VideoCache) Get(url string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if ok {
		if _, err := c.fs.Stat(entry.FilePath); err != nil {
			ok = false
		}
	}
	metrics.RecordCacheAccess(metrics.CacheTypeVideo, ok)
	if !ok {
		return Entry{}, false
	}
	return entry, true
}

// Open returns an open handle to the cached file for url. The file is opened
// while the lock is held, so a concurrent cleanup can only unlink it after
// the handle exists; reads through the handle keep working after the unlink.
func (c *VideoCache) Open(url string) (afero.File, Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[url]
	if !ok {
		metrics.RecordCacheAccess(metrics.CacheTypeVideo, false)
		return nil, Entry{}, models.NewNotCachedError(url)
	}

	file, err := c.fs.Open(entry.FilePath)
	if err != nil {
		metrics.RecordCacheAccess(metrics.CacheTypeVideo, false)
		return nil, Entry{}, models.NewNotCachedError(url)
	}

	metrics.RecordCacheAccess(metrics.CacheTypeVideo, true)
	c.logger.LogCacheEvent("hit", url, entry.FilePath)
	return file, entry, nil
}

// CleanupExpired drops every entry older than the TTL at now and deletes its
// file. Entries leave the map under the lock; files are deleted after it is
// released. Deletion failures are collected into a cleanup error.
func (c *VideoCache) CleanupExpired(now time.Time) error {
	c.mu.Lock()
	var expired []Entry
	for url, entry := range c.entries {
		if now.Sub(entry.FetchedAt) > c.ttl {
			expired = append(expired, entry)
			delete(c.entries, url)
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	metrics.SetCacheEntries(size)

	var result *multierror.Error
	for _, entry := range expired {
		metrics.RecordCacheEviction(ReasonExpired)
		c.logger.LogCacheEvent("expire", entry.URL, entry.FilePath)
		if err := c.removeFile(entry.FilePath); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return models.NewCleanupError(err)
	}
	return nil
}

// Sweep runs CleanupExpired at the cache clock's current time and logs,
// rather than returns, any deletion failure
func (c *VideoCache) Sweep() {
	if err := c.CleanupExpired(c.now()); err != nil {
		metrics.RecordError("cache", string(models.KindCleanup))
		c.logger.WarnWithErr("Cache cleanup failed", err)
	}
}

// Evict removes url and deletes its file
func (c *VideoCache) Evict(url string) error {
	c.mu.Lock()
	entry, ok := c.entries[url]
	delete(c.entries, url)
	size := len(c.entries)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	metrics.SetCacheEntries(size)
	metrics.RecordCacheEviction(ReasonEvicted)
	c.logger.LogCacheEvent("evict", url, entry.FilePath)
	return c.removeFile(entry.FilePath)
}

// Purge removes every entry and deletes every file, for shutdown
func (c *VideoCache) Purge() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	metrics.SetCacheEntries(0)

	var result *multierror.Error
	for _, entry := range entries {
		metrics.RecordCacheEviction(ReasonPurged)
		if err := c.removeFile(entry.FilePath); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Len returns the number of entries
func (c *VideoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a snapshot of all entries
func (c *VideoCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry)
	}
	return out
}

// StartJanitor sweeps expired entries every interval until ctx is done
func (c *VideoCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

func (c *VideoCache) removeFile(path string) error {
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
