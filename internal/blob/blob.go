// Package blob defines object storage used for snapshot exports and
// bulk-completion manifests.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store reads and writes whole objects.
type Store interface {
	// PutObject uploads data and returns the object's URI.
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	// GetObject opens an object by its path or by the URI PutObject returned.
	GetObject(ctx context.Context, pathOrURI string) (io.ReadCloser, error)
}
