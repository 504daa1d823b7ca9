// Package file stores each blob as one file in a directory.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nicktill/beacon/pkg/storage"
)

// Ext is appended to every logical name
const Ext = ".json"

// Storage writes blobs to <dir>/<name>.json. Writes go to a temp file that is
// renamed over the target, so a crash mid-write leaves the old blob intact.
type Storage struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the directory if needed and returns a file store
func New(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Storage{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// lock returns the mutex guarding one name. Different names never share a lock.
func (s *Storage) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *Storage) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.dir, name+Ext), nil
}

// Save atomically replaces the file for name
func (s *Storage) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(name)
	if err != nil {
		return err
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %q: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %q: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %q: %w", name, err)
	}
	return nil
}

// Load reads the file for name, or returns nil when it does not exist
func (s *Storage) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.path(name)
	if err != nil {
		return nil, err
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	return data, nil
}

// Delete removes the file for name
func (s *Storage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(name)
	if err != nil {
		return err
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", name, err)
	}
	return nil
}

// Names lists the stored names, sorted
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Ext))
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; files are closed after every operation
func (s *Storage) Close() error {
	return nil
}

var _ storage.BlobStore = (*Storage)(nil)
var _ storage.Lister = (*Storage)(nil)
