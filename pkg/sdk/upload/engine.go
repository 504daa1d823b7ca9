// Package upload owns the SDK's queues and drains them to the collector.
//
// Records are appended under the engine lock and saved before the lock is
// released. Uploads run without the lock: a single in-progress flag makes
// sure only one request is in flight, and concurrent Upload calls return
// immediately while another upload is running.
package upload

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/sdk/clock"
	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/queue"
	"github.com/nicktill/beacon/pkg/sdk/records"
	"github.com/nicktill/beacon/pkg/sdk/request"
	"github.com/nicktill/beacon/pkg/sdk/transport"
)

// Defaults
const (
	DefaultEventBatchSize = 15
	DefaultSendTimeout    = 30 * time.Second
)

// Config holds configuration for the engine
type Config struct {
	AppKey     string
	SDKName    string
	SDKVersion string
	AppVersion string

	// Salt enables checksum256 tamper protection when set
	Salt string

	// EventBatchSize is the maximum number of events per request
	EventBatchSize int

	// MergeWait delays device id merge requests so the server has processed
	// everything sent under the old id
	MergeWait time.Duration

	// SendTimeout bounds a single request
	SendTimeout time.Duration
}

// IdentitySource returns the current device id
type IdentitySource interface {
	Current() device.ID
}

// ConsentChecker gates profile uploads
type ConsentChecker interface {
	IsGiven(f consent.Feature) bool
}

// Engine holds the event, session, crash and stored request queues plus the
// user profile, and uploads them in that fixed order.
type Engine struct {
	config   Config
	sender   transport.Sender
	store    *queue.Store
	clock    *clock.Source
	identity IdentitySource
	consent  ConsentChecker
	log      zerolog.Logger

	mu          sync.Mutex
	inProgress  bool
	deferUpload bool
	epoch       uint64 // bumped by Clear

	events    []*records.Event
	sessions  []records.Session
	crashes   []*records.Crash
	unhandled []*records.Crash
	requests  []records.StoredRequest
	profile   *records.UserProfile
}

// Deps are the collaborators of an Engine
type Deps struct {
	Sender   transport.Sender
	Store    *queue.Store
	Clock    *clock.Source
	Identity IdentitySource
	Consent  ConsentChecker
	Logger   zerolog.Logger
}

// New creates an engine with empty queues. Call Load to restore persisted state.
func New(cfg Config, deps Deps) *Engine {
	if cfg.EventBatchSize <= 0 {
		cfg.EventBatchSize = DefaultEventBatchSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Engine{
		config:   cfg,
		sender:   deps.Sender,
		store:    deps.Store,
		clock:    deps.Clock,
		identity: deps.Identity,
		consent:  deps.Consent,
		log:      deps.Logger,
		profile:  records.NewUserProfile(),
	}
}

// Load restores every queue and the profile. Crashes saved as unhandled by
// the previous run are moved into the crash queue.
func (e *Engine) Load(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events, _ = queue.Load[[]*records.Event](ctx, e.store, queue.EventsFile)
	e.sessions, _ = queue.Load[[]records.Session](ctx, e.store, queue.SessionsFile)
	e.crashes, _ = queue.Load[[]*records.Crash](ctx, e.store, queue.ExceptionsFile)
	e.requests, _ = queue.Load[[]records.StoredRequest](ctx, e.store, queue.StoredRequestsFile)

	if p, ok := queue.Load[*records.UserProfile](ctx, e.store, queue.UserDetailsFile); ok && p != nil {
		e.profile = p
	} else {
		e.profile = records.NewUserProfile()
	}

	if unhandled, ok := queue.Load[[]*records.Crash](ctx, e.store, queue.UnhandledCrashesFile); ok && len(unhandled) > 0 {
		e.log.Info().Int("count", len(unhandled)).Msg("picked up unhandled crashes from previous run")
		e.crashes = append(e.crashes, unhandled...)
		if e.store.Save(ctx, queue.ExceptionsFile, e.crashes) {
			e.store.Delete(ctx, queue.UnhandledCrashesFile)
		}
	}
	e.unhandled = nil

	e.log.Debug().
		Int("events", len(e.events)).
		Int("sessions", len(e.sessions)).
		Int("crashes", len(e.crashes)).
		Int("requests", len(e.requests)).
		Bool("profile_changed", e.profile.Changed()).
		Msg("queues loaded")
}

// SetDeferUpload toggles manual batching. While set, Upload leaves every
// record queued and reports success.
func (e *Engine) SetDeferUpload(deferUpload bool) {
	e.mu.Lock()
	e.deferUpload = deferUpload
	e.mu.Unlock()
}

// AddEvent queues an event and persists the event queue
func (e *Engine) AddEvent(ctx context.Context, ev *records.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, ev)
	return e.store.Save(ctx, queue.EventsFile, e.events)
}

// AddSession queues a session record and persists the session queue
func (e *Engine) AddSession(ctx context.Context, s records.Session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessions = append(e.sessions, s)
	return e.store.Save(ctx, queue.SessionsFile, e.sessions)
}

// AddCrash queues a non-fatal crash for the next upload
func (e *Engine) AddCrash(ctx context.Context, c *records.Crash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.crashes = append(e.crashes, c)
	return e.store.Save(ctx, queue.ExceptionsFile, e.crashes)
}

// AddUnhandledCrash persists a fatal crash. It is not uploaded by this run;
// the next Load moves it into the crash queue.
func (e *Engine) AddUnhandledCrash(ctx context.Context, c *records.Crash) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.unhandled = append(e.unhandled, c)
	return e.store.Save(ctx, queue.UnhandledCrashesFile, e.unhandled)
}

// AddRequest queues a rendered request
func (e *Engine) AddRequest(ctx context.Context, path string, idMerge bool) bool {
	sr, err := records.NewStoredRequest(path, idMerge)
	if err != nil {
		e.log.Warn().Err(err).Msg("request not queued")
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.requests = append(e.requests, sr)
	return e.store.Save(ctx, queue.StoredRequestsFile, e.requests)
}

// UpdateProfile runs fn on the profile under the engine lock and persists
// the profile if fn changed it. It reports whether the profile is dirty.
func (e *Engine) UpdateProfile(ctx context.Context, fn func(p *records.UserProfile)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rev := e.profile.Revision()
	fn(e.profile)
	if e.profile.Revision() != rev {
		e.store.Save(ctx, queue.UserDetailsFile, e.profile)
	}
	return e.profile.Changed()
}

// Clear drops every queued record and the profile, and deletes their
// persisted copies
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.epoch++
	e.events = nil
	e.sessions = nil
	e.crashes = nil
	e.unhandled = nil
	e.requests = nil
	e.profile.Reset()

	return e.store.DeleteAll(ctx)
}

// Snapshot is a copy of the engine state
type Snapshot struct {
	Events         []*records.Event
	Sessions       []records.Session
	Crashes        []*records.Crash
	Unhandled      []*records.Crash
	Requests       []records.StoredRequest
	ProfileChanged bool
	InProgress     bool
}

// Snapshot returns copies of the queues
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Events:         append([]*records.Event(nil), e.events...),
		Sessions:       append([]records.Session(nil), e.sessions...),
		Crashes:        append([]*records.Crash(nil), e.crashes...),
		Unhandled:      append([]*records.Crash(nil), e.unhandled...),
		Requests:       append([]records.StoredRequest(nil), e.requests...),
		ProfileChanged: e.profile.Changed(),
		InProgress:     e.inProgress,
	}
}

// Base returns the base parameters for the current device and a fresh instant
func (e *Engine) Base() *request.Params {
	return e.BaseAt(e.clock.Now())
}

// BaseAt returns the base parameters for the current device at instant in
func (e *Engine) BaseAt(in clock.Instant) *request.Params {
	id := e.identity.Current()
	return request.Base(request.BaseInfo{
		AppKey:       e.config.AppKey,
		DeviceID:     id.Value,
		SDKName:      e.config.SDKName,
		SDKVersion:   e.config.SDKVersion,
		AppVersion:   e.config.AppVersion,
		DeviceIDType: id.Method.TypeCode(),
	}, in)
}

// pendingLocked reports whether another pass has work to do
func (e *Engine) pendingLocked() bool {
	if len(e.sessions) > 0 || len(e.events) > 0 || len(e.crashes) > 0 || len(e.requests) > 0 {
		return true
	}
	return e.profile.Changed() && e.consent.IsGiven(consent.Users)
}

// profilePayloadLocked returns the user_details JSON if the profile should
// ride along with the next request
func (e *Engine) profilePayloadLocked() (payload string, rev uint64, ok bool) {
	if !e.profile.Changed() || !e.consent.IsGiven(consent.Users) {
		return "", 0, false
	}
	payload, err := e.profile.Payload()
	if err != nil {
		e.log.Error().Err(err).Msg("failed to encode user details")
		return "", 0, false
	}
	return payload, e.profile.Revision(), true
}

// clearProfileLocked marks the profile as delivered if it did not change
// while the request was in flight
func (e *Engine) clearProfileLocked(ctx context.Context, rev uint64) {
	if e.profile.ClearChanged(rev) {
		e.store.Save(ctx, queue.UserDetailsFile, e.profile)
	}
}

// send delivers one request. It reports true when the record can be
// removed from its queue: on success, and on requests the collector
// rejects as malformed.
func (e *Engine) send(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, e.config.SendTimeout)
	defer cancel()

	res, err := e.sender.Send(ctx, request.WithChecksum(path, e.config.Salt))
	if err != nil {
		e.log.Warn().Err(err).Msg("upload failed")
		return false
	}
	if res.Success() {
		return true
	}
	if res.BadRequest() {
		e.log.Warn().Int("status", res.StatusCode).Str("body", res.Body).Msg("collector rejected request, dropping it")
		return true
	}
	e.log.Warn().Int("status", res.StatusCode).Msg("upload not accepted")
	return false
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
