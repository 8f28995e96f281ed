// Package gcs provides a blob store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/shard-coordinator/internal/blob"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore reads and writes objects in a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

var _ blob.Store = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// GetObject opens an object. A gs:// URI may name any bucket the client can
// read; a bare path is resolved against the configured bucket.
func (s *BlobStore) GetObject(ctx context.Context, pathOrURI string) (io.ReadCloser, error) {
	bucket, object, err := SplitURI(pathOrURI, s.bucket)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", blob.ErrNotFound, bucket, object)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	return rc, nil
}

// SplitURI returns the bucket and object named by a gs:// URI, or
// defaultBucket and the input for a bare path.
func SplitURI(pathOrURI, defaultBucket string) (string, string, error) {
	rest, ok := strings.CutPrefix(pathOrURI, "gs://")
	if !ok {
		if strings.TrimSpace(pathOrURI) == "" {
			return "", "", fmt.Errorf("path is required")
		}
		return defaultBucket, pathOrURI, nil
	}
	bucket, object, found := strings.Cut(rest, "/")
	if !found || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs uri %q", pathOrURI)
	}
	return bucket, object, nil
}
