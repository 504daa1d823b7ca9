package sdk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/sdk/batch"
	"github.com/nicktill/beacon/pkg/sdk/clock"
	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/limits"
	"github.com/nicktill/beacon/pkg/sdk/queue"
	"github.com/nicktill/beacon/pkg/sdk/request"
	"github.com/nicktill/beacon/pkg/sdk/transport"
	"github.com/nicktill/beacon/pkg/sdk/upload"
	"github.com/nicktill/beacon/pkg/storage"
	"github.com/nicktill/beacon/pkg/storage/badger"
	"github.com/nicktill/beacon/pkg/storage/file"
	"github.com/nicktill/beacon/pkg/storage/memory"
)

// SDK identification sent with every request
const (
	SDKName    = "go-native"
	SDKVersion = "0.3.0"
)

// Defaults
const (
	DefaultSessionUpdateInterval = 60 * time.Second
	DefaultMergeWait             = 10 * time.Second

	// GCInterval is how often badger storage reclaims value log space
	GCInterval     = 10 * time.Minute
	gcDiscardRatio = 0.5
)

var (
	// ErrInvalidServerURL is returned by New when the server URL is missing
	ErrInvalidServerURL = errors.New("server url is required")

	// ErrInvalidAppKey is returned by New when the app key is missing
	ErrInvalidAppKey = errors.New("app key is required")

	// ErrInvalidInterval is returned by New for a negative session update interval
	ErrInvalidInterval = errors.New("session update interval cannot be negative")

	// ErrUploadIncomplete is returned by Shutdown when records are still queued
	ErrUploadIncomplete = errors.New("records remain queued")
)

// StorageBackend selects where queues are persisted
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageFile   StorageBackend = "file"
	StorageBadger StorageBackend = "badger"
)

// Config holds configuration for the client
type Config struct {
	ServerURL  string
	AppKey     string
	AppVersion string

	// DeviceID is a developer supplied device id. When empty the id is
	// restored from storage or generated.
	DeviceID string

	ConsentRequired bool
	GivenConsent    map[consent.Feature]bool

	// SessionUpdateInterval is how often a running session sends a heartbeat
	SessionUpdateInterval time.Duration

	Limits limits.Config

	// MetricOverride replaces or extends the begin_session metrics
	MetricOverride map[string]string

	// Salt enables checksum256 tamper protection
	Salt string

	// MergeWait delays device id merge requests
	MergeWait time.Duration

	// RequestTimeout bounds a single request to the collector
	RequestTimeout time.Duration

	// BackendMode enables Backend() and its event pool
	BackendMode bool
	Pool        batch.Config

	// Storage selects the persistence backend. StoragePath is a directory
	// for file and badger storage; without it queues live in memory.
	Storage     StorageBackend
	StoragePath string
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBlobStore persists queues in store instead of the configured backend
func WithBlobStore(store storage.BlobStore) Option {
	return func(c *Client) { c.blobs = store }
}

// WithSender replaces the HTTP transport
func WithSender(sender transport.Sender) Option {
	return func(c *Client) { c.sender = sender }
}

// WithClock sets the time source
func WithClock(src *clock.Source) Option {
	return func(c *Client) { c.clock = src }
}

// WithDeviceInfo sets the provider of session metrics and crash device
// details. It may also implement device.StateProvider.
func WithDeviceInfo(info device.InfoProvider) Option {
	return func(c *Client) { c.info = info }
}

// Client records analytics on behalf of one app and delivers them to the
// collector. Create it with New, then call Init before recording.
type Client struct {
	config Config
	log    zerolog.Logger

	clock    *clock.Source
	blobs    storage.BlobStore
	store    *queue.Store
	sender   transport.Sender
	engine   *upload.Engine
	identity *device.Identity
	consent  *consent.Ledger
	limits   *limits.Enforcer
	crumbs   *limits.Breadcrumbs
	info     device.InfoProvider
	pool     *batch.EventPool
	backend  *Backend

	// kick wakes the background uploader for records queued without an
	// inline upload
	kick chan struct{}

	mu          sync.Mutex
	initialized bool
	halted      bool
	runStart    time.Time

	// session state; sessionStart is zero until a session was attempted
	sessionStart  time.Time
	sessionActive bool
	lastUpdate    time.Time
	timerCancel   context.CancelFunc
	timerDone     chan struct{}

	timedEvents map[string]int64

	lastView      string
	lastViewStart int64
	firstView     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client. It validates the configuration and wires the
// storage, transport and upload engine but does not touch storage yet.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ServerURL == "" {
		return nil, ErrInvalidServerURL
	}
	if strings.TrimSpace(cfg.AppKey) == "" {
		return nil, ErrInvalidAppKey
	}
	if cfg.SessionUpdateInterval < 0 {
		return nil, ErrInvalidInterval
	}
	if cfg.SessionUpdateInterval == 0 {
		cfg.SessionUpdateInterval = DefaultSessionUpdateInterval
	}
	if cfg.MergeWait == 0 {
		cfg.MergeWait = DefaultMergeWait
	}
	cfg.Limits = cfg.Limits.WithDefaults()

	c := &Client{
		config:      cfg,
		log:         zerolog.Nop(),
		timedEvents: make(map[string]int64),
		firstView:   true,
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.clock == nil {
		c.clock = clock.New(clock.WithLogger(c.component("clock")))
	}
	if c.info == nil {
		c.info = device.NewRuntimeInfo()
	}

	if c.sender == nil {
		sender, err := transport.NewHTTP(cfg.ServerURL, cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create transport: %w", err)
		}
		c.sender = sender
	}

	if c.blobs == nil {
		blobs, err := c.openStorage()
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		c.blobs = blobs
	}

	c.store = queue.NewStore(c.blobs, c.component("queue"))
	c.identity = device.NewIdentity(c.store, c.component("device"))
	c.consent = consent.NewLedger(cfg.ConsentRequired, nil)
	c.limits = limits.New(cfg.Limits, c.component("limits"))
	c.crumbs = c.limits.NewBreadcrumbs()

	c.engine = upload.New(upload.Config{
		AppKey:      cfg.AppKey,
		SDKName:     SDKName,
		SDKVersion:  SDKVersion,
		AppVersion:  cfg.AppVersion,
		Salt:        cfg.Salt,
		MergeWait:   cfg.MergeWait,
		SendTimeout: cfg.RequestTimeout,
	}, upload.Deps{
		Sender:   c.sender,
		Store:    c.store,
		Clock:    c.clock,
		Identity: c.identity,
		Consent:  c.consent,
		Logger:   c.component("upload"),
	})

	if cfg.BackendMode {
		c.backend = &Backend{client: c}
		c.pool = batch.New(c.backend.flush, cfg.Pool)
	}

	return c, nil
}

func (c *Client) component(name string) zerolog.Logger {
	return c.log.With().Str("component", name).Logger()
}

func (c *Client) openStorage() (storage.BlobStore, error) {
	backend := c.config.Storage
	if backend == "" {
		backend = StorageBadger
	}
	if c.config.StoragePath == "" || backend == StorageMemory {
		if backend != StorageMemory {
			c.log.Warn().Msg("no storage path configured, queues will not survive a restart")
		}
		return memory.New(), nil
	}

	switch backend {
	case StorageFile:
		return file.New(c.config.StoragePath)
	case StorageBadger:
		log := c.component("badger")
		return badger.New(badger.Config{
			Path:      c.config.StoragePath,
			Namespace: c.config.AppKey,
			Logger:    &log,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Init loads persisted queues, resolves the device id and applies the
// initial consent. ctx bounds the loading; background loops run until
// Shutdown. Calling Init twice is a no-op.
func (c *Client) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.runStart = time.Now()
	c.mu.Unlock()

	c.engine.Load(ctx)
	id := c.identity.Init(ctx, c.config.DeviceID)

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.uploadLoop()
	if c.pool != nil {
		if err := c.pool.Start(c.ctx); err != nil {
			return fmt.Errorf("failed to start event pool: %w", err)
		}
	}
	if gc, ok := c.blobs.(garbageCollector); ok {
		c.wg.Add(1)
		go c.gcLoop(gc)
	}

	c.log.Info().
		Str("device_id", id.Value).
		Int("device_id_type", id.Method.TypeCode()).
		Bool("consent_required", c.config.ConsentRequired).
		Bool("backend_mode", c.config.BackendMode).
		Msg("sdk initialized")

	if len(c.config.GivenConsent) > 0 {
		c.SetConsent(ctx, c.config.GivenConsent)
	}
	return nil
}

// Shutdown ends the running session, flushes the event pool, makes a last
// upload attempt and closes storage. Errors are aggregated.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return c.blobs.Close()
	}
	active := c.sessionActive
	halted := c.halted
	c.mu.Unlock()

	var result *multierror.Error

	if c.pool != nil {
		c.pool.Stop()
	}
	if active {
		c.EndSession(ctx)
	}
	c.stopTimer()

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if !halted && !c.engine.Upload(ctx) {
		result = multierror.Append(result, ErrUploadIncomplete)
	}
	if err := ctx.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close storage: %w", err))
	}

	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()

	return result.ErrorOrNil()
}

// Upload drains the queues now. It reports false when a request failed;
// the records stay queued.
func (c *Client) Upload(ctx context.Context) bool {
	if !c.ready("Upload") {
		return false
	}
	return c.engine.Upload(ctx)
}

// SetDeferUpload keeps every record queued until it is turned off again
// and Upload is called
func (c *Client) SetDeferUpload(deferUpload bool) {
	c.engine.SetDeferUpload(deferUpload)
}

// Halt stops the session timer and deletes every queued record, the user
// profile and the device id. The client rejects further calls.
func (c *Client) Halt(ctx context.Context) error {
	c.stopTimer()

	c.mu.Lock()
	c.halted = true
	c.sessionActive = false
	c.sessionStart = time.Time{}
	c.timedEvents = make(map[string]int64)
	c.lastView = ""
	c.lastViewStart = 0
	c.firstView = true
	c.mu.Unlock()

	c.crumbs.Clear()
	c.consent.RevokeAll()

	if err := c.engine.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear stored data: %w", err)
	}
	c.log.Info().Msg("sdk halted, stored data removed")
	return nil
}

// ready reports whether record calls are accepted
func (c *Client) ready(op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.halted:
		c.log.Warn().Str("op", op).Msg("sdk halted, call ignored")
		return false
	case !c.initialized:
		c.log.Warn().Str("op", op).Msg("sdk not initialized, call ignored")
		return false
	}
	return true
}

// enqueue adds a rendered request and triggers an upload
func (c *Client) enqueue(ctx context.Context, extra *request.Params, idMerge bool) bool {
	path := request.Render(c.engine.Base(), extra)
	if !c.engine.AddRequest(ctx, path, idMerge) {
		return false
	}
	return c.engine.Upload(ctx)
}

// uploadLoop uploads records queued by QueueEvent, QueueException and
// the event pool
func (c *Client) uploadLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.kick:
			c.engine.Upload(c.ctx)
		}
	}
}

// garbageCollector is implemented by stores that need periodic compaction
type garbageCollector interface {
	RunGC(discardRatio float64) error
}

// gcLoop reclaims storage space until Shutdown
func (c *Client) gcLoop(gc garbageCollector) {
	defer c.wg.Done()

	ticker := time.NewTicker(GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := gc.RunGC(gcDiscardRatio); err != nil {
				c.log.Debug().Err(err).Msg("storage gc skipped")
				continue
			}
			c.log.Debug().Dur("took", time.Since(start)).Msg("storage gc completed")
		}
	}
}

func (c *Client) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
