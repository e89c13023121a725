package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/signagedisplay/internal/config"
	"github.com/Lllllllleong/signagedisplay/internal/decoder"
	"github.com/Lllllllleong/signagedisplay/internal/fetch"
	"github.com/Lllllllleong/signagedisplay/internal/pagecache"
	"github.com/Lllllllleong/signagedisplay/internal/raster"
)

// pageStore is the configured page cache with the pieces the HTTP layer needs.
type pageStore struct {
	service pagecache.Service
	clearer pagecache.Clearer
	// pages serves the cache directory; nil unless the cache is on local disk.
	pages  http.Handler
	closer func() error
}

func (p *pageStore) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

func newPageStore(ctx context.Context, cfg config.Config, storageClient *storage.Client, logger *slog.Logger) (*pageStore, error) {
	var (
		bucket pagecache.Bucket
		pages  http.Handler
	)
	switch cfg.PageCacheBackend {
	case config.BackendFS:
		dir, err := pagecache.NewDirBucket(cfg.PageCacheDir, cfg.PageCacheBaseURL)
		if err != nil {
			return nil, err
		}
		bucket = dir
		pages = http.FileServer(http.Dir(dir.Root))
	case config.BackendGCS:
		if storageClient == nil {
			return nil, errors.New("a storage client is required for the gcs page cache")
		}
		bucket = pagecache.NewGCSBucket(storageClient, cfg.PageCacheBucket, cfg.PageCacheBaseURL)
	case config.BackendS3:
		s3, err := pagecache.NewS3Bucket(pagecache.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Bucket:    cfg.PageCacheBucket,
			BaseURL:   cfg.PageCacheBaseURL,
		})
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		bucket = s3
	default:
		return nil, fmt.Errorf("unknown page cache backend %q", cfg.PageCacheBackend)
	}

	cache := pagecache.New(bucket, logger)
	store := &pageStore{service: cache, clearer: cache, pages: pages}
	if cfg.RedisURL != "" {
		manifest, err := pagecache.NewManifest(cache, cfg.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create page manifest: %w", err)
		}
		store.service = manifest
		store.clearer = manifest
		store.closer = manifest.Close
	}
	logger.Info("Page cache initialized.", "backend", cfg.PageCacheBackend, "manifest", cfg.RedisURL != "")
	return store, nil
}

func newPipeline(cfg config.Config, cache pagecache.Service, storageClient *storage.Client, logger *slog.Logger) (*raster.Pipeline, error) {
	dec, err := decoder.New(cfg.Decoder)
	if err != nil {
		return nil, err
	}
	fetcher, err := fetch.New(fetch.Options{BaseURL: cfg.SourceBaseURL, Storage: storageClient}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Rasterization pipeline initialized.", "decoder", dec.Name())
	return raster.New(cache, dec, fetcher, nil, raster.DefaultOptions(), logger), nil
}
