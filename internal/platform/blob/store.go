// Package blob abstracts receipt file storage behind a small interface so the
// workflow core never talks to the object store directly.
package blob

import (
	"context"
	"io"
)

// Store persists uploaded files and returns a stable URL for each object.
type Store interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64) (string, error)
	Remove(ctx context.Context, key string) error
}
