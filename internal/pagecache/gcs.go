package pagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSBucket stores pages in a Cloud Storage bucket.
type GCSBucket struct {
	handle  *storage.BucketHandle
	name    string
	baseURL string
}

// NewGCSBucket wraps bucket. An empty baseURL serves objects from the public
// storage.googleapis.com endpoint.
func NewGCSBucket(client *storage.Client, bucket, baseURL string) *GCSBucket {
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSBucket{
		handle:  client.Bucket(bucket),
		name:    bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (b *GCSBucket) Exists(ctx context.Context, name string) (bool, error) {
	attrs, err := b.handle.Object(name).Attrs(ctx)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", b.name, name, err)
	}
	return attrs.Size > 0, nil
}

func (b *GCSBucket) Put(ctx context.Context, name string, data []byte) error {
	writer := b.handle.Object(name).NewWriter(ctx)
	writer.ContentType = "image/jpeg"
	writer.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

func (b *GCSBucket) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := b.handle.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", b.name, prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (b *GCSBucket) Delete(ctx context.Context, name string) error {
	if err := b.handle.Object(name).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", b.name, name, err)
	}
	return nil
}

func (b *GCSBucket) URL(name string) string {
	return b.baseURL + "/" + name
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
