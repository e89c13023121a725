// Package fetch loads the raw bytes of a document source from HTTP, Cloud Storage or
// the local filesystem.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/signagedisplay/internal/models"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultRetryMax = 2
	defaultMaxBytes = 200 << 20
)

// Source is a fetched document.
type Source struct {
	Locator     string
	Data        []byte
	ContentType string
}

// Fetcher is what the rasterization pipeline needs from this package.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (Source, error)
}

type Options struct {
	// BaseURL resolves relative locators such as "/uploads/plasa.pdf".
	BaseURL string
	// Storage serves gs:// locators. Optional.
	Storage    *storage.Client
	HTTPClient *http.Client
	RetryMax   int
	Backoff    time.Duration
	MaxBytes   int64
}

// Client implements Fetcher.
type Client struct {
	base     *url.URL
	storage  *storage.Client
	http     *http.Client
	retryMax int
	backoff  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		storage:  opts.Storage,
		http:     opts.HTTPClient,
		retryMax: opts.RetryMax,
		backoff:  opts.Backoff,
		maxBytes: opts.MaxBytes,
		logger:   logger.With("component", "fetch"),
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid source base url: %w", err)
		}
		c.base = u
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.retryMax <= 0 {
		c.retryMax = defaultRetryMax
	}
	if c.backoff <= 0 {
		c.backoff = 500 * time.Millisecond
	}
	if c.maxBytes <= 0 {
		c.maxBytes = defaultMaxBytes
	}
	return c, nil
}

// Resolve turns a locator into an absolute one. Relative paths are joined to the
// base URL; gs://, file:// and absolute filesystem paths are returned unchanged.
func (c *Client) Resolve(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", errors.New("empty source locator")
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid source locator %q: %w", locator, err)
	}
	if u.Scheme != "" {
		return locator, nil
	}
	if c.base == nil {
		if strings.HasPrefix(locator, "/") {
			return "file://" + locator, nil
		}
		return "", fmt.Errorf("relative source locator %q and no base url configured", locator)
	}
	return c.base.ResolveReference(u).String(), nil
}

func (c *Client) Fetch(ctx context.Context, locator string) (Source, error) {
	resolved, err := c.Resolve(locator)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	u, _ := url.Parse(resolved)

	var src Source
	switch u.Scheme {
	case "http", "https":
		src, err = c.fetchHTTP(ctx, resolved)
	case "gs":
		src, err = c.fetchGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "file":
		src, err = c.fetchFile(u.Path)
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return Source{}, fmt.Errorf("%w: %s: %v", models.ErrSourceUnavailable, resolved, err)
	}
	src.Locator = resolved
	if src.ContentType == "" || src.ContentType == "application/octet-stream" {
		src.ContentType = http.DetectContentType(src.Data)
	}
	return src, nil
}

func (c *Client) fetchHTTP(ctx context.Context, target string) (Source, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Source fetch failed, will retry.", "url", target, "attempt", attempt, "backoff", backoff.String(), "error", lastErr)
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return Source{}, ctx.Err()
			}
		}
		src, retry, err := c.getOnce(ctx, target)
		if err == nil {
			return src, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return Source{}, lastErr
}

func (c *Client) getOnce(ctx context.Context, target string) (Source, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Source{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Source{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return Source{}, retry, fmt.Errorf("unexpected status %s", resp.Status)
	}
	data, err := c.readAll(resp.Body)
	if err != nil {
		return Source{}, true, err
	}
	return Source{Data: data, ContentType: mediaType(resp.Header.Get("Content-Type"))}, false, nil
}

func (c *Client) fetchGCS(ctx context.Context, bucket, object string) (Source, error) {
	if c.storage == nil {
		return Source{}, errors.New("no storage client configured for gs:// sources")
	}
	reader, err := c.storage.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return Source{}, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()
	data, err := c.readAll(reader)
	if err != nil {
		return Source{}, fmt.Errorf("failed to read GCS object: %w", err)
	}
	return Source{Data: data, ContentType: mediaType(reader.Attrs.ContentType)}, nil
}

func (c *Client) fetchFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return Source{}, err
	}
	defer f.Close()
	data, err := c.readAll(f)
	if err != nil {
		return Source{}, err
	}
	return Source{Data: data}, nil
}

func (c *Client) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("source exceeds %d bytes", c.maxBytes)
	}
	return data, nil
}

func mediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
