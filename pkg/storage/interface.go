package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by backends used after Close
var ErrClosed = errors.New("storage closed")

// BlobStore persists opaque blobs keyed by logical name.
// Implementations: memory (testing), file (one file per name), badger (production)
//
// Saves to different names must not block or corrupt each other.
type BlobStore interface {
	// Save replaces the blob stored under name
	Save(ctx context.Context, name string, data []byte) error

	// Load returns the blob stored under name, or nil when there is none
	Load(ctx context.Context, name string) ([]byte, error)

	// Delete removes the blob stored under name. Deleting a missing name is not an error.
	Delete(ctx context.Context, name string) error

	// Close cleanly shuts down the store
	Close() error
}

// Lister is implemented by stores that can enumerate their names
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}
