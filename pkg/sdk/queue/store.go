// Package queue persists the SDK's queues and singleton objects as JSON
// blobs, one logical name per queue.
package queue

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/storage"
)

// Logical names
const (
	EventsFile           = "events"
	SessionsFile         = "sessions"
	ExceptionsFile       = "exceptions"
	UnhandledCrashesFile = "unhandled_exceptions"
	UserDetailsFile      = "userdetails"
	StoredRequestsFile   = "storedRequests"
	DeviceFile           = "device"
)

// AllFiles lists every logical name the SDK writes
var AllFiles = []string{
	EventsFile,
	SessionsFile,
	ExceptionsFile,
	UnhandledCrashesFile,
	UserDetailsFile,
	StoredRequestsFile,
	DeviceFile,
}

// DefaultTimeout bounds every storage call
const DefaultTimeout = 5 * time.Second

// Store is typed persistence over a BlobStore. Failures are logged and
// reported as false or "no data"; they never propagate as errors.
type Store struct {
	blobs   storage.BlobStore
	log     zerolog.Logger
	timeout time.Duration
}

// NewStore wraps blobs
func NewStore(blobs storage.BlobStore, log zerolog.Logger) *Store {
	return &Store{blobs: blobs, log: log, timeout: DefaultTimeout}
}

// Load decodes the blob stored under name into a T. It returns false when
// the blob is missing or cannot be decoded; a corrupt blob is reported as
// missing so the caller starts with an empty collection.
func Load[T any](ctx context.Context, s *Store, name string) (T, bool) {
	var out T

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.blobs.Load(ctx, name)
	if err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("failed to load")
		return out, false
	}
	if len(data) == 0 {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn().Err(err).Str("name", name).Msg("discarding corrupt data")
		var zero T
		return zero, false
	}
	return out, true
}

// Save encodes v and stores it under name
func (s *Store) Save(ctx context.Context, name string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Str("name", name).Msg("failed to encode")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.blobs.Save(ctx, name, data); err != nil {
		s.log.Error().Err(err).Str("name", name).Msg("failed to save")
		return false
	}
	return true
}

// Delete removes the blob stored under name
func (s *Store) Delete(ctx context.Context, name string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.blobs.Delete(ctx, name); err != nil {
		s.log.Error().Err(err).Str("name", name).Msg("failed to delete")
		return false
	}
	return true
}

// DeleteAll removes every logical name the SDK writes
func (s *Store) DeleteAll(ctx context.Context) error {
	var result *multierror.Error
	for _, name := range AllFiles {
		dctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.blobs.Delete(dctx, name)
		cancel()
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes the underlying BlobStore
func (s *Store) Close() error {
	return s.blobs.Close()
}
