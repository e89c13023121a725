// Package pagecache persists rendered page images keyed by (document, page, kind) and
// reports which of a document's pages are already stored.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// CheckResult describes the cached pages of one document. Locations is only filled
// when every expected page is present.
type CheckResult struct {
	AllPresent bool
	Locations  []string
	Found      int
}

// Service is the page cache consumed by the rasterization pipeline.
type Service interface {
	CheckPages(ctx context.Context, documentID string, expected int, kind string) (CheckResult, error)
	UploadPage(ctx context.Context, data []byte, pageNumber int, documentID, kind string) (string, error)
}

// Clearer is implemented by caches that can drop a document's pages.
type Clearer interface {
	ClearPages(ctx context.Context, documentID, kind string) (int, error)
}

// Bucket is the object store a Cache writes to.
type Bucket interface {
	Exists(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, name string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
	// URL is the public location of a stored object.
	URL(name string) string
}

// ObjectName is the storage name of one page. Pages are numbered from 1.
func ObjectName(kind, documentID string, pageNumber int) string {
	return fmt.Sprintf("%spage-%d.jpg", Prefix(kind, documentID), pageNumber)
}

// Prefix is the storage prefix shared by every page of a document.
func Prefix(kind, documentID string) string {
	if kind == "" {
		kind = "document"
	}
	return kind + "/" + documentID + "/"
}

// Cache implements Service and Clearer on top of a Bucket.
type Cache struct {
	bucket Bucket
	logger *slog.Logger

	MaxRetries   int
	Backoff      time.Duration
	WriteTimeout time.Duration
}

func New(bucket Bucket, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		bucket:       bucket,
		logger:       logger.With("component", "pagecache"),
		MaxRetries:   4,
		Backoff:      time.Second,
		WriteTimeout: 50 * time.Second,
	}
}

// CheckPages looks for pages 1..expected in order and stops at the first missing one.
// The document's prefix is listed once; a single page is a plain existence check.
func (c *Cache) CheckPages(ctx context.Context, documentID string, expected int, kind string) (CheckResult, error) {
	if err := validateID(documentID); err != nil {
		return CheckResult{}, err
	}
	if expected < 1 {
		return CheckResult{}, fmt.Errorf("expected page count must be at least 1, got %d", expected)
	}

	present, err := c.present(ctx, documentID, expected, kind)
	if err != nil {
		return CheckResult{}, err
	}
	locations := make([]string, 0, expected)
	for page := 1; page <= expected; page++ {
		name := ObjectName(kind, documentID, page)
		if !present[name] {
			c.logger.Debug("Cached page missing.", "documentId", documentID, "page", page)
			return CheckResult{Found: len(locations)}, nil
		}
		locations = append(locations, c.bucket.URL(name))
	}
	return CheckResult{AllPresent: true, Locations: locations, Found: expected}, nil
}

func (c *Cache) present(ctx context.Context, documentID string, expected int, kind string) (map[string]bool, error) {
	if expected == 1 {
		name := ObjectName(kind, documentID, 1)
		ok, err := c.bucket.Exists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check page 1 of %s: %w", documentID, err)
		}
		return map[string]bool{name: ok}, nil
	}
	names, err := c.bucket.List(ctx, Prefix(kind, documentID))
	if err != nil {
		return nil, fmt.Errorf("failed to list pages of %s: %w", documentID, err)
	}
	present := make(map[string]bool, len(names))
	for _, name := range names {
		present[name] = true
	}
	return present, nil
}

// UploadPage stores one page, retrying with exponential backoff.
func (c *Cache) UploadPage(ctx context.Context, data []byte, pageNumber int, documentID, kind string) (string, error) {
	if err := validateID(documentID); err != nil {
		return "", err
	}
	if pageNumber < 1 {
		return "", fmt.Errorf("page number must be at least 1, got %d", pageNumber)
	}
	if len(data) == 0 {
		return "", errors.New("page image is empty")
	}

	name := ObjectName(kind, documentID, pageNumber)
	backoff := c.Backoff
	var lastErr error
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, c.WriteTimeout)
			defer cancel()
			return c.bucket.Put(writeCtx, name, data)
		}()
		if err == nil {
			return c.bucket.URL(name), nil
		}
		lastErr = err
		if attempt == c.MaxRetries {
			break
		}
		c.logger.Warn("Page upload failed, will retry.",
			"object", name,
			"attempt", attempt,
			"maxRetries", c.MaxRetries,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return "", fmt.Errorf("upload of %s aborted: %w", name, ctx.Err())
		}
	}
	c.logger.Error("Page upload failed after all retries.", "object", name, "error", lastErr)
	return "", fmt.Errorf("upload for %s failed after all retries: %w", name, lastErr)
}

// ClearPages deletes every stored page of a document.
func (c *Cache) ClearPages(ctx context.Context, documentID, kind string) (int, error) {
	if err := validateID(documentID); err != nil {
		return 0, err
	}
	names, err := c.bucket.List(ctx, Prefix(kind, documentID))
	if err != nil {
		return 0, fmt.Errorf("failed to list pages of %s: %w", documentID, err)
	}
	deleted := 0
	for _, name := range names {
		if err := c.bucket.Delete(ctx, name); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", name, err)
		}
		deleted++
	}
	c.logger.Info("Cleared cached pages.", "documentId", documentID, "kind", kind, "deleted", deleted)
	return deleted, nil
}

func validateID(documentID string) error {
	if documentID == "" {
		return errors.New("document id must not be empty")
	}
	if strings.ContainsAny(documentID, "/\\") || documentID == "." || documentID == ".." {
		return fmt.Errorf("invalid document id %q", documentID)
	}
	return nil
}
