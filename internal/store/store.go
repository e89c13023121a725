// Package store reads the admin-owned document records the display presents.
package store

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/Lllllllleong/signagedisplay/internal/models"
)

// Source delivers full snapshots of the document collection.
type Source interface {
	// List returns the current documents.
	List(ctx context.Context) ([]models.Document, error)
	// Watch calls fn with every changed snapshot until ctx is done. The first
	// snapshot is always delivered.
	Watch(ctx context.Context, fn func([]models.Document)) error
}

// Render outcomes recorded on a document.
const (
	RenderReady  = "READY"
	RenderFailed = "FAILED"
)

// RenderRecorder stores the outcome of pre-rendering a document. The page count lets
// later resolutions check the cache without decoding.
type RenderRecorder interface {
	RecordRender(ctx context.Context, documentID string, pageCount int, status, errDetails string) error
}

// Finder looks up the document that points at a source.
type Finder interface {
	FindByURL(ctx context.Context, url string) (*models.Document, error)
}

const maxWatchBackoff = time.Minute

// poll lists every interval and delivers snapshots that differ from the last one.
// List errors are logged and retried on the next tick.
func poll(ctx context.Context, interval time.Duration, list func(context.Context) ([]models.Document, error), fn func([]models.Document), logger *slog.Logger) error {
	var last []models.Document
	delivered := false
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		docs, err := list(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			logger.Warn("Failed to list documents; retrying.", "error", err)
		default:
			sortDocuments(docs)
			if !delivered || !reflect.DeepEqual(docs, last) {
				fn(docs)
				last = docs
				delivered = true
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sortDocuments(docs []models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}
