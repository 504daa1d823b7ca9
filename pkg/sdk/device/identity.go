// Package device holds the device identity and the device information
// providers used to build session metrics and crash reports.
package device

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/sdk/queue"
)

// Method tells how a device id was obtained
type Method int

const (
	MethodNone              Method = 0
	MethodCPUID             Method = 1
	MethodMultipleFields    Method = 2
	MethodGUID              Method = 3
	MethodHardwareToken     Method = 4
	MethodDeveloperSupplied Method = 100
)

// TypeCode returns the value of the "t" request parameter:
// 0 for developer supplied ids, 1 for SDK generated ones
func (m Method) TypeCode() int {
	if m == MethodDeveloperSupplied {
		return 0
	}
	return 1
}

// ID is a device id together with how it was obtained
type ID struct {
	Value  string `json:"deviceId"`
	Method Method `json:"deviceIdMethod"`
}

// Identity holds the current device id and persists every change
type Identity struct {
	mu    sync.RWMutex
	id    ID
	store *queue.Store
	log   zerolog.Logger
}

// NewIdentity creates an identity backed by store
func NewIdentity(store *queue.Store, log zerolog.Logger) *Identity {
	return &Identity{store: store, log: log}
}

// Init resolves the device id at startup: a developer supplied id wins,
// then a previously persisted id, then a newly generated GUID.
func (i *Identity) Init(ctx context.Context, developerID string) ID {
	i.mu.Lock()
	defer i.mu.Unlock()

	if developerID != "" {
		i.id = ID{Value: developerID, Method: MethodDeveloperSupplied}
		i.store.Save(ctx, queue.DeviceFile, i.id)
		return i.id
	}

	if stored, ok := queue.Load[ID](ctx, i.store, queue.DeviceFile); ok && stored.Value != "" {
		i.id = stored
		return i.id
	}

	i.id = ID{Value: Generate(), Method: MethodGUID}
	i.log.Debug().Str("device_id", i.id.Value).Msg("generated device id")
	i.store.Save(ctx, queue.DeviceFile, i.id)
	return i.id
}

// Current returns the current device id
func (i *Identity) Current() ID {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.id
}

// Set replaces the device id and persists it. It returns the previous id.
func (i *Identity) Set(ctx context.Context, value string, method Method) ID {
	i.mu.Lock()
	defer i.mu.Unlock()

	prev := i.id
	i.id = ID{Value: value, Method: method}
	i.store.Save(ctx, queue.DeviceFile, i.id)
	return prev
}

// Generate returns a new random device id: an upper case GUID without dashes
func Generate() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
