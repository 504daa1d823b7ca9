/*
Package storage provides the pluggable blob storage used to keep unsent
analytics data across restarts.

# BlobStore Interface

All backends implement BlobStore:

	type BlobStore interface {
	    Save(ctx context.Context, name string, data []byte) error
	    Load(ctx context.Context, name string) ([]byte, error)
	    Delete(ctx context.Context, name string) error
	    Close() error
	}

Each logical queue (events, sessions, exceptions, storedRequests, ...) is
stored under its own name, so a failed or interrupted save only affects
that one queue.

# Backends

  - memory: map backed, for tests. Data is lost on restart.
  - file: one file per name in a directory, written via temp file + rename.
  - badger: BadgerDB (LSM tree + Snappy compression). Several SDK instances
    can share one database by using different namespaces.

# Missing Data

Load returns (nil, nil) for a name that was never saved or was deleted.
Callers treat that the same as an empty queue.
*/
package storage
