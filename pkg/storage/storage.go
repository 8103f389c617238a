// Package storage defines FileStore, the object store that call archives
// are written to, with a local-disk and an S3 implementation.
package storage

import "context"

// FileStore stores whole objects by slash-separated path.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Put writes an object, replacing any existing one.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get reads an object. A missing object returns an error wrapping
	// os.ErrNotExist.
	Get(ctx context.Context, path string) ([]byte, error)

	// Exists reports whether an object exists.
	Exists(ctx context.Context, path string) (bool, error)
}
