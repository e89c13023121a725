package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/signagedisplay/internal/models"
)

// Firestore streams the document collection through snapshot listeners.
type Firestore struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

func NewFirestore(client *firestore.Client, collection string, logger *slog.Logger) *Firestore {
	if logger == nil {
		logger = slog.Default()
	}
	return &Firestore{
		client:     client,
		collection: collection,
		logger:     logger.With("component", "store", "source", "firestore", "collection", collection),
	}
}

func (f *Firestore) List(ctx context.Context) ([]models.Document, error) {
	snaps, err := f.client.Collection(f.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return f.decode(snaps), nil
}

// Watch listens for collection changes. A broken listener is re-established with
// exponential backoff.
func (f *Firestore) Watch(ctx context.Context, fn func([]models.Document)) error {
	backoff := time.Second
	for {
		err := f.listen(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("Snapshot listener stopped; reconnecting.", "error", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxWatchBackoff {
			backoff = maxWatchBackoff
		}
	}
}

func (f *Firestore) listen(ctx context.Context, fn func([]models.Document)) error {
	it := f.client.Collection(f.collection).Snapshots(ctx)
	defer it.Stop()

	f.logger.Info("Listening for document changes.")
	for {
		snap, err := it.Next()
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return fmt.Errorf("failed to read snapshot documents: %w", err)
		}
		out := f.decode(docs)
		sortDocuments(out)
		fn(out)
	}
}

func (f *Firestore) FindByURL(ctx context.Context, url string) (*models.Document, error) {
	snaps, err := f.client.Collection(f.collection).Where("url", "==", url).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query documents by url: %w", err)
	}
	docs := f.decode(snaps)
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func (f *Firestore) RecordRender(ctx context.Context, documentID string, pageCount int, status, errDetails string) error {
	updates := []firestore.Update{{Path: "renderStatus", Value: status}}
	if pageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: pageCount})
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "renderError", Value: errDetails})
	}
	if _, err := f.client.Collection(f.collection).Doc(documentID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to record render status: %w", err)
	}
	return nil
}

func (f *Firestore) decode(snaps []*firestore.DocumentSnapshot) []models.Document {
	out := make([]models.Document, 0, len(snaps))
	for _, snap := range snaps {
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			f.logger.Warn("Skipping malformed document.", "documentId", snap.Ref.ID, "error", err)
			continue
		}
		doc.ID = snap.Ref.ID
		out = append(out, doc)
	}
	return out
}
