// Package gcp builds the Google Cloud clients shared by the display and the
// prerender function.
package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
)

// NewFirestoreClient connects to the named database of a project, or to the
// default database when databaseID is empty.
func NewFirestoreClient(ctx context.Context, projectID, databaseID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if host := os.Getenv("FIRESTORE_EMULATOR_HOST"); host != "" {
		slog.Info("Using the Firestore emulator.", "host", host)
	}

	var (
		client *firestore.Client
		err    error
	)
	if databaseID == "" {
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewStorageClient creates a Cloud Storage client with application default credentials.
func NewStorageClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return client, nil
}

// OptionalStorageClient returns nil instead of failing when no credentials are
// available, so a display serving pages from disk still starts.
func OptionalStorageClient(ctx context.Context, logger *slog.Logger) *storage.Client {
	client, err := NewStorageClient(ctx)
	if err != nil {
		logger.Warn("Cloud Storage unavailable; gs:// sources cannot be fetched.", "error", err)
		return nil
	}
	return client
}
