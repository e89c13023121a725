package pagecache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manifest indexes uploaded page locations in a redis hash per document so a cache
// check is a single HGETALL instead of one probe per page. The wrapped Service stays
// the source of truth: index misses and redis errors fall through to it.
type Manifest struct {
	next   Service
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewManifest connects to redisURL and wraps next.
func NewManifest(next Service, redisURL string, logger *slog.Logger) (*Manifest, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewManifestWithClient(next, client, logger), nil
}

// NewManifestWithClient wraps next using an existing client.
func NewManifestWithClient(next Service, client *redis.Client, logger *slog.Logger) *Manifest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manifest{
		next:   next,
		client: client,
		prefix: "pages:",
		ttl:    30 * 24 * time.Hour,
		logger: logger.With("component", "manifest"),
	}
}

func (m *Manifest) key(kind, documentID string) string {
	if kind == "" {
		kind = "document"
	}
	return m.prefix + kind + ":" + documentID
}

func (m *Manifest) CheckPages(ctx context.Context, documentID string, expected int, kind string) (CheckResult, error) {
	if expected >= 1 {
		fields, err := m.client.HGetAll(ctx, m.key(kind, documentID)).Result()
		if err != nil {
			m.logger.Warn("Manifest lookup failed, checking the cache directly.", "documentId", documentID, "error", err)
		} else if locations, ok := complete(fields, expected); ok {
			return CheckResult{AllPresent: true, Locations: locations, Found: expected}, nil
		}
	}

	res, err := m.next.CheckPages(ctx, documentID, expected, kind)
	if err != nil || !res.AllPresent {
		return res, err
	}
	m.backfill(ctx, documentID, kind, res.Locations)
	return res, nil
}

func (m *Manifest) UploadPage(ctx context.Context, data []byte, pageNumber int, documentID, kind string) (string, error) {
	location, err := m.next.UploadPage(ctx, data, pageNumber, documentID, kind)
	if err != nil {
		return "", err
	}
	key := m.key(kind, documentID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(pageNumber), location)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("Failed to record page in manifest.", "documentId", documentID, "page", pageNumber, "error", err)
	}
	return location, nil
}

// ClearPages drops the manifest entry and, when supported, the stored pages.
func (m *Manifest) ClearPages(ctx context.Context, documentID, kind string) (int, error) {
	if err := m.client.Del(ctx, m.key(kind, documentID)).Err(); err != nil {
		return 0, fmt.Errorf("failed to clear manifest: %w", err)
	}
	if c, ok := m.next.(Clearer); ok {
		return c.ClearPages(ctx, documentID, kind)
	}
	return 0, nil
}

func (m *Manifest) Close() error {
	return m.client.Close()
}

func (m *Manifest) backfill(ctx context.Context, documentID, kind string, locations []string) {
	values := make(map[string]interface{}, len(locations))
	for i, loc := range locations {
		values[strconv.Itoa(i+1)] = loc
	}
	key := m.key(kind, documentID)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Warn("Failed to backfill manifest.", "documentId", documentID, "error", err)
	}
}

// complete returns the locations of pages 1..expected when all are indexed.
func complete(fields map[string]string, expected int) ([]string, bool) {
	if len(fields) < expected {
		return nil, false
	}
	locations := make([]string, 0, expected)
	for page := 1; page <= expected; page++ {
		loc, ok := fields[strconv.Itoa(page)]
		if !ok || loc == "" {
			return nil, false
		}
		locations = append(locations, loc)
	}
	return locations, true
}
