package pagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// BaseURL overrides the public location prefix. Defaults to the endpoint path-style URL.
	BaseURL string
}

// S3Bucket stores pages in an S3-compatible bucket.
type S3Bucket struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

func NewS3Bucket(opts S3Options) (*S3Bucket, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("S3 endpoint and bucket must be set")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.Bucket)
	}
	return &S3Bucket{client: client, bucket: opts.Bucket, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (b *S3Bucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *S3Bucket) Exists(ctx context.Context, name string) (bool, error) {
	info, err := b.client.StatObject(ctx, b.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat s3://%s/%s: %w", b.bucket, name, err)
	}
	return info.Size > 0, nil
}

func (b *S3Bucket) Put(ctx context.Context, name string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "image/jpeg",
		CacheControl: "public, max-age=86400",
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", b.bucket, name, err)
	}
	return nil
}

func (b *S3Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", b.bucket, prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	return names, nil
}

func (b *S3Bucket) Delete(ctx context.Context, name string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", b.bucket, name, err)
	}
	return nil
}

func (b *S3Bucket) URL(name string) string {
	return b.baseURL + "/" + name
}
