package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/beacon/pkg/storage"
)

// Storage stores blobs in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	blobs  map[string][]byte
	closed bool
	mu     sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		blobs: make(map[string][]byte),
	}
}

// Save stores a copy of data under name
func (s *Storage) Save(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.blobs[name] = append([]byte(nil), data...)
	return nil
}

// Load returns a copy of the blob stored under name
func (s *Storage) Load(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	data, ok := s.blobs[name]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the blob stored under name
func (s *Storage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	delete(s.blobs, name)
	return nil
}

// Names returns every stored name, sorted
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close marks the store closed
func (s *Storage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ storage.BlobStore = (*Storage)(nil)
var _ storage.Lister = (*Storage)(nil)
