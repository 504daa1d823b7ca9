package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/storage"
)

// DefaultNamespace is used when Config.Namespace is empty
const DefaultNamespace = "default"

// Storage implements storage.BlobStore using BadgerDB (LSM tree)
type Storage struct {
	db     *badger.DB
	prefix []byte
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64

	// Namespace separates SDK instances sharing one database, usually the app key
	Namespace string

	// Logger receives badger's internal log output
	Logger *zerolog.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Queues are small: a few hundred KB at most. Keep the footprint tiny.
	var memTableSize int64
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	} else {
		memTableSize = 4 * 1024 * 1024
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1). // only the latest snapshot of each queue matters

		WithMemTableSize(memTableSize).
		WithNumMemtables(2).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).

		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(16 << 20)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: *cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	return &Storage{db: db, prefix: namespacePrefix(ns)}, nil
}

// Save stores data under name
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := s.makeKey(name)
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, data)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to save %q: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("save operation cancelled: %w", ctx.Err())
	}
}

// Load returns the blob stored under name, or nil when absent
func (s *Storage) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type loadResult struct {
		data []byte
		err  error
	}
	key := s.makeKey(name)
	done := make(chan loadResult, 1)

	go func() {
		var res loadResult
		res.err = s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			res.data, err = item.ValueCopy(nil)
			return err
		})
		done <- res
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to load %q: %w", name, res.err)
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("load operation cancelled: %w", ctx.Err())
	}
}

// Delete removes the blob stored under name
func (s *Storage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := s.makeKey(name)
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to delete %q: %w", name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delete operation cancelled: %w", ctx.Err())
	}
}

// Names lists every name stored in this namespace
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list names: %w", err)
	}
	return names, nil
}

// DeleteAll removes every blob in this namespace
func (s *Storage) DeleteAll(ctx context.Context) error {
	names, err := s.Names(ctx)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, name := range names {
			if err := txn.Delete(s.makeKey(name)); err != nil {
				return fmt.Errorf("failed to delete %q: %w", name, err)
			}
		}
		return nil
	})
}

// RunGC reclaims value log space. Returns nil when there was nothing to collect.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// makeKey creates a key: namespace_hash + name
// Format: [namespace_hash (8 bytes)][name]
func (s *Storage) makeKey(name string) []byte {
	key := make([]byte, 0, len(s.prefix)+len(name))
	key = append(key, s.prefix...)
	return append(key, name...)
}

func namespacePrefix(ns string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(ns))
	return prefix
}

// badgerLogger forwards badger's logs to zerolog
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

var _ storage.BlobStore = (*Storage)(nil)
var _ storage.Lister = (*Storage)(nil)
