package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/signagedisplay/internal/config"
	"github.com/Lllllllleong/signagedisplay/internal/gcp"
	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/models"
	"github.com/Lllllllleong/signagedisplay/internal/raster"
	"github.com/Lllllllleong/signagedisplay/internal/store"
	"github.com/Lllllllleong/signagedisplay/internal/viewer"
)

// Prerender outcomes reported in models.PrerenderResponse.Status.
const (
	PrerenderRendered = "rendered"
	PrerenderCached   = "cached"
	PrerenderSkipped  = "skipped"
	PrerenderFailed   = "failed"
)

// PrerenderFunction warms the page cache when a document is uploaded, so displays
// find every page persisted the first time they show it.
type PrerenderFunction struct {
	storageClient *storage.Client
	resolver      viewer.Resolver
	finder        store.Finder
	recorder      store.RenderRecorder
	closers       []func() error
}

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

func NewPrerender(ctx context.Context) (*PrerenderFunction, error) {
	cfg := config.Load()
	if cfg.PageCacheBackend == config.BackendFS {
		return nil, fmt.Errorf("PAGE_CACHE_BACKEND must be gcs or s3 for the prerender function")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default()
	f := &PrerenderFunction{}

	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	f.storageClient = storageClient
	f.closers = append(f.closers, storageClient.Close)

	switch cfg.DocumentSource {
	case config.SourceFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		f.closers = append(f.closers, client.Close)
		fs := store.NewFirestore(client, cfg.FirestoreCollection, logger)
		f.finder, f.recorder = fs, fs
	case config.SourcePostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		f.closers = append(f.closers, db.Close)
		pg := store.NewPostgres(db, cfg.PollInterval, logger)
		f.finder, f.recorder = pg, pg
	}

	pages, err := newPageStore(ctx, cfg, storageClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	f.closers = append(f.closers, pages.Close)
	pipeline, err := newPipeline(cfg, pages.service, storageClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	f.resolver = pipeline

	slog.Info("Prerender logic initialized.", "pageCache", cfg.PageCacheBackend, "documentSource", cfg.DocumentSource)
	return f, nil
}

// Process rasterizes the uploaded object into the page cache. Sources that can never
// render are recorded as failed without an error, so the event is not retried.
func (f *PrerenderFunction) Process(ctx context.Context, e GCSEvent) (models.PrerenderResponse, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !isPrerenderable(e) {
		logCtx.Info("Skipping object that is not a PDF.", "contentType", e.ContentType)
		return models.PrerenderResponse{Status: PrerenderSkipped}, nil
	}
	logCtx.Info("Processing new GCS object.")

	doc, recorded, err := f.lookup(ctx, e)
	if err != nil {
		logCtx.Error("Failed to look up the document record.", "error", err)
		return models.PrerenderResponse{}, err
	}
	logCtx = logCtx.With("documentId", doc.ID, "recorded", recorded)

	seq, err := f.resolver.Resolve(ctx, *doc, lifecycle.Token{}, nil)
	// Nothing will ever show transient pages produced here.
	defer f.resolver.Release(seq)
	if err != nil {
		return models.PrerenderResponse{}, f.handleError(ctx, logCtx, doc, recorded, "failed to rasterize document", err)
	}

	resp := models.PrerenderResponse{
		Status:     PrerenderRendered,
		DocumentID: doc.ID,
		PageCount:  seq.PageCount,
		Persisted:  seq.Count(models.PagePersisted),
		Transient:  seq.Count(models.PageTransient),
		Failed:     seq.Count(models.PageFailed),
	}
	if seq.CacheHit {
		resp.Status = PrerenderCached
	}

	if seq.Failure != nil {
		resp.Status = PrerenderFailed
		_ = f.handleError(ctx, logCtx, doc, recorded, "document cannot be rendered", seq.Failure)
		return resp, nil
	}
	if resp.Transient > 0 {
		return resp, f.handleError(ctx, logCtx, doc, recorded, "pages could not be persisted",
			fmt.Errorf("%d of %d pages: %w", resp.Transient, seq.PageCount, models.ErrCacheUploadFailed))
	}

	if recorded {
		if err := f.recorder.RecordRender(ctx, doc.ID, seq.PageCount, store.RenderReady, ""); err != nil {
			logCtx.Error("Failed to record render status.", "error", err)
			return resp, err
		}
	}
	logCtx.Info("Page cache warmed.", "status", resp.Status, "pageCount", resp.PageCount, "failedPages", resp.Failed)
	return resp, nil
}

func (f *PrerenderFunction) Close() {
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i](); err != nil {
			slog.Warn("Failed to close resource.", "error", err)
		}
	}
	f.closers = nil
}

// lookup finds the record pointing at the object by its gs:// or public URL. Objects
// nobody references yet are rendered under their cache key.
func (f *PrerenderFunction) lookup(ctx context.Context, e GCSEvent) (*models.Document, bool, error) {
	candidates := []string{
		fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name),
		fmt.Sprintf("https://storage.googleapis.com/%s/%s", e.Bucket, e.Name),
	}
	for _, url := range candidates {
		doc, err := f.finder.FindByURL(ctx, url)
		if err != nil {
			return nil, false, err
		}
		if doc != nil {
			// The record's URL may be the public one; the object is fetched directly.
			found := *doc
			found.URL = candidates[0]
			return &found, true, nil
		}
	}
	return &models.Document{ID: raster.CacheKey(candidates[0]), URL: candidates[0]}, false, nil
}

func (f *PrerenderFunction) handleError(ctx context.Context, logCtx *slog.Logger, doc *models.Document, recorded bool, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if recorded {
		if err := f.recorder.RecordRender(ctx, doc.ID, 0, store.RenderFailed, fullError); err != nil {
			logCtx.Error("CRITICAL: Failed to record the render failure.", "updateError", err)
		}
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func isPrerenderable(e GCSEvent) bool {
	if strings.HasSuffix(e.Name, "/") {
		return false
	}
	if e.ContentType == "application/pdf" {
		return true
	}
	return strings.EqualFold(path.Ext(e.Name), ".pdf")
}
