package sdk

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/beacon/pkg/sdk/batch"
	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/records"
	"github.com/nicktill/beacon/pkg/sdk/request"
	"github.com/nicktill/beacon/pkg/sdk/transport"
	"github.com/nicktill/beacon/pkg/storage/memory"
)

// fakeSender records every request and answers with a canned result
type fakeSender struct {
	mu    sync.Mutex
	paths []string
	fail  bool
}

func (f *fakeSender) Send(ctx context.Context, path string) (transport.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return transport.Result{}, errors.New("connection refused")
	}
	f.paths = append(f.paths, path)
	return transport.Result{StatusCode: http.StatusOK, Body: `{"result":"Success"}`}, nil
}

func (f *fakeSender) getPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

type stubInfo struct{}

func (stubInfo) OS() string         { return "linux" }
func (stubInfo) OSVersion() string  { return "6.1" }
func (stubInfo) Device() string     { return "test-host" }
func (stubInfo) Resolution() string { return "" }
func (stubInfo) Carrier() string    { return "" }
func (stubInfo) Locale() string     { return "en_US" }

var _ device.InfoProvider = stubInfo{}

func testConfig() Config {
	return Config{
		ServerURL:  "http://collector.test",
		AppKey:     "app-key",
		AppVersion: "1.0.0",
		MergeWait:  -1,
	}
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	client, err := New(cfg,
		WithSender(sender),
		WithBlobStore(memory.New()),
		WithDeviceInfo(stubInfo{}),
	)
	require.NoError(t, err)
	require.NoError(t, client.Init(context.Background()))
	t.Cleanup(func() { _ = client.Shutdown(context.Background()) })
	return client, sender
}

func decodePath(t *testing.T, path string) url.Values {
	t.Helper()
	v, err := request.Decode(path)
	require.NoError(t, err)
	return v
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing server url", func(c *Config) { c.ServerURL = " " }, ErrInvalidServerURL},
		{"missing app key", func(c *Config) { c.AppKey = "" }, ErrInvalidAppKey},
		{"negative interval", func(c *Config) { c.SessionUpdateInterval = -1 }, ErrInvalidInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, WithBlobStore(memory.New()))
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCallsBeforeInit(t *testing.T) {
	client, err := New(testConfig(), WithSender(&fakeSender{}), WithBlobStore(memory.New()))
	require.NoError(t, err)

	if client.RecordEvent(context.Background(), "click") {
		t.Error("RecordEvent before Init should be rejected")
	}
	if client.BeginSession(context.Background()) {
		t.Error("BeginSession before Init should be rejected")
	}
	require.NoError(t, client.Shutdown(context.Background()))
}

func TestRecordEventUploads(t *testing.T) {
	client, sender := newTestClient(t, testConfig())
	ctx := context.Background()

	ok := client.RecordEvent(ctx, "purchase",
		WithCount(2),
		WithSum(9.5),
		WithSegmentation(records.NewSegmentation("sku", "A-1")),
	)
	require.True(t, ok)

	paths := sender.getPaths()
	require.Len(t, paths, 1)

	params := decodePath(t, paths[0])
	require.Equal(t, "app-key", params.Get("app_key"))

	var events []records.Event
	require.NoError(t, json.Unmarshal([]byte(params.Get("events")), &events))
	require.Len(t, events, 1)
	require.Equal(t, "purchase", events[0].Key)
	require.Equal(t, 2, events[0].Count)
	require.NotNil(t, events[0].Sum)
	require.Equal(t, 9.5, *events[0].Sum)

	sku, _ := events[0].Segmentation.Get("sku")
	require.Equal(t, "A-1", sku)
}

func TestQueueEventUploadsInBackground(t *testing.T) {
	client, sender := newTestClient(t, testConfig())
	ctx := context.Background()

	require.True(t, client.QueueEvent(ctx, "tap"))
	require.True(t, client.QueueException(ctx, "timeout", "", nil))

	require.Eventually(t, func() bool {
		snap := client.engine.Snapshot()
		return len(snap.Events) == 0 && len(snap.Crashes) == 0
	}, 2*time.Second, 10*time.Millisecond)

	var sawEvent, sawCrash bool
	for _, path := range sender.getPaths() {
		params := decodePath(t, path)
		sawEvent = sawEvent || params.Has("events")
		sawCrash = sawCrash || params.Has("crash")
	}
	require.True(t, sawEvent)
	require.True(t, sawCrash)

	// Test: empty keys are still rejected
	require.False(t, client.QueueEvent(ctx, ""))
}

func TestRecordEventRejectsEmptyKey(t *testing.T) {
	client, sender := newTestClient(t, testConfig())

	if client.RecordEvent(context.Background(), "  ") {
		t.Error("expected empty key to be rejected")
	}
	require.Empty(t, sender.getPaths())
}

func TestTimedEvents(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.SetDeferUpload(true)
	ctx := context.Background()

	require.True(t, client.StartEvent("checkout"))
	// Test 1: starting a running event again is rejected
	require.False(t, client.StartEvent("checkout"))
	require.True(t, client.StartEvent("search"))
	require.Equal(t, 2, client.TimedEvents())

	// Test 2: cancelled events are not recorded
	require.True(t, client.CancelEvent("search"))
	require.False(t, client.CancelEvent("search"))

	// Test 3: ending records the event with a duration
	require.True(t, client.EndEvent(ctx, "checkout"))
	require.False(t, client.EndEvent(ctx, "checkout"))
	require.Equal(t, 0, client.TimedEvents())

	snap := client.engine.Snapshot()
	require.Len(t, snap.Events, 1)
	require.Equal(t, "checkout", snap.Events[0].Key)
	require.NotNil(t, snap.Events[0].Duration)
	require.GreaterOrEqual(t, *snap.Events[0].Duration, 0.0)
}

func TestRecordView(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.SetDeferUpload(true)
	ctx := context.Background()

	require.True(t, client.RecordView(ctx, "home"))
	require.True(t, client.RecordView(ctx, "settings"))
	require.False(t, client.RecordView(ctx, ""))

	events := client.engine.Snapshot().Events
	require.Len(t, events, 3)
	for _, ev := range events {
		require.Equal(t, ViewEventKey, ev.Key)
	}

	get := func(ev *records.Event, key string) string {
		v, _ := ev.Segmentation.Get(key)
		return v
	}

	// first visit
	require.Equal(t, "home", get(events[0], "name"))
	require.Equal(t, "1", get(events[0], "visit"))
	require.Equal(t, "1", get(events[0], "start"))
	require.Equal(t, "linux", get(events[0], "segment"))

	// duration of the previous view
	require.Equal(t, "home", get(events[1], "name"))
	_, hasDur := events[1].Segmentation.Get("dur")
	require.True(t, hasDur)

	// second visit carries no start flag
	require.Equal(t, "settings", get(events[2], "name"))
	_, hasStart := events[2].Segmentation.Get("start")
	require.False(t, hasStart)
}

func TestSessionLifecycle(t *testing.T) {
	client, sender := newTestClient(t, testConfig())
	ctx := context.Background()

	require.True(t, client.BeginSession(ctx))
	require.True(t, client.UpdateSession(ctx, 30))
	require.False(t, client.UpdateSession(ctx, -1))
	require.True(t, client.EndSession(ctx))

	paths := sender.getPaths()
	require.Len(t, paths, 3)

	begin := decodePath(t, paths[0])
	require.Equal(t, "1", begin.Get("begin_session"))
	var metrics map[string]string
	require.NoError(t, json.Unmarshal([]byte(begin.Get("metrics")), &metrics))
	require.Equal(t, "linux", metrics["_os"])
	require.Equal(t, "1.0.0", metrics["_app_version"])

	require.Equal(t, "30", decodePath(t, paths[1]).Get("session_duration"))
	require.Equal(t, "1", decodePath(t, paths[2]).Get("end_session"))
}

func TestSessionWaitsForConsent(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)
	ctx := context.Background()

	// Test 1: without consent nothing is queued
	require.True(t, client.BeginSession(ctx))
	require.Empty(t, client.engine.Snapshot().Sessions)

	// Test 2: granting sessions consent begins the attempted session
	require.True(t, client.SetConsent(ctx, map[consent.Feature]bool{consent.Sessions: true}))
	snap := client.engine.Snapshot()
	require.Len(t, snap.Sessions, 1)
	require.Equal(t, records.SessionBegin, snap.Sessions[0].Kind)

	// Test 3: revoking it ends the session
	require.True(t, client.SetConsent(ctx, map[consent.Feature]bool{consent.Sessions: false}))
	snap = client.engine.Snapshot()
	require.Len(t, snap.Sessions, 2)
	require.Equal(t, records.SessionEnd, snap.Sessions[1].Kind)
}

func TestConsentPayload(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)

	require.True(t, client.SetConsent(context.Background(), map[consent.Feature]bool{
		consent.Crashes: true,
		consent.Events:  true,
	}))

	requests := client.engine.Snapshot().Requests
	require.Len(t, requests, 1)

	var state map[string]bool
	params := decodePath(t, requests[0].Request)
	require.NoError(t, json.Unmarshal([]byte(params.Get("consent")), &state))
	require.Len(t, state, 10)
	require.True(t, state["crashes"])
	require.True(t, state["events"])
	require.False(t, state["sessions"])
	require.False(t, state["remote-config"])

	// Unchanged consent queues nothing
	require.True(t, client.SetConsent(context.Background(), map[consent.Feature]bool{consent.Crashes: true}))
	require.Len(t, client.engine.Snapshot().Requests, 1)
}

func TestRevokeLocationConsentDisablesLocation(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)
	ctx := context.Background()

	require.True(t, client.SetConsent(ctx, map[consent.Feature]bool{consent.Location: true}))
	require.True(t, client.SetConsent(ctx, map[consent.Feature]bool{consent.Location: false}))

	// consent granted, consent revoked, then the disable location request
	requests := client.engine.Snapshot().Requests
	require.Len(t, requests, 3)

	var state map[string]bool
	revoke := decodePath(t, requests[1].Request)
	require.NoError(t, json.Unmarshal([]byte(revoke.Get("consent")), &state))
	require.False(t, state["location"])

	disable := decodePath(t, requests[2].Request)
	require.False(t, disable.Has("consent"))
	for _, key := range []string{"location", "ip", "country_code", "city"} {
		require.True(t, disable.Has(key), "missing %s", key)
		require.Empty(t, disable.Get(key))
	}
}

func TestEventsWithoutConsent(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)
	ctx := context.Background()

	require.True(t, client.RecordEvent(ctx, "click"))
	require.False(t, client.StartEvent("timed"))
	require.False(t, client.RecordView(ctx, "home"))
	require.Empty(t, client.engine.Snapshot().Events)

	// Revoking events drops running timed events
	client.SetConsent(ctx, map[consent.Feature]bool{consent.Events: true})
	require.True(t, client.StartEvent("timed"))
	client.SetConsent(ctx, map[consent.Feature]bool{consent.Events: false})
	require.Equal(t, 0, client.TimedEvents())
}

func TestRecordExceptionFatalAndNonFatal(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.SetDeferUpload(true)
	ctx := context.Background()

	client.AddBreadcrumb("opened settings")
	client.AddBreadcrumb("tapped save")

	// Test 1: handled errors go to the crash queue
	require.True(t, client.RecordException(ctx, "io error", "stack 1", map[string]string{"screen": "settings"}, false))
	// Test 2: unhandled ones are persisted for the next run
	require.False(t, client.RecordException(ctx, "panic", "stack 2", nil, true))

	snap := client.engine.Snapshot()
	require.Len(t, snap.Crashes, 1)
	require.Len(t, snap.Unhandled, 1)

	crash := snap.Crashes[0]
	require.True(t, crash.NonFatal)
	require.Equal(t, "stack 1", crash.Error)
	require.Equal(t, "linux", crash.OS)
	require.Equal(t, "opened settings\ntapped save", crash.Logs)
	require.Equal(t, "settings", crash.Custom["screen"])

	require.False(t, snap.Unhandled[0].NonFatal)
}

func TestSetLocation(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.SetDeferUpload(true)
	ctx := context.Background()

	require.False(t, client.SetLocation(ctx, Location{}))
	require.True(t, client.SetLocation(ctx, Location{City: "Riga", CountryCode: "LV"}))
	require.True(t, client.DisableLocation(ctx))

	requests := client.engine.Snapshot().Requests
	require.Len(t, requests, 2)

	set := decodePath(t, requests[0].Request)
	require.Equal(t, "Riga", set.Get("city"))
	require.Equal(t, "LV", set.Get("country_code"))
	_, hasIP := set["ip"]
	require.False(t, hasIP)

	disabled := decodePath(t, requests[1].Request)
	for _, key := range []string{"location", "ip", "country_code", "city"} {
		values, ok := disabled[key]
		require.True(t, ok, "missing %s", key)
		require.Equal(t, "", values[0])
	}
}

func TestUpdateUserProfile(t *testing.T) {
	client, sender := newTestClient(t, testConfig())
	ctx := context.Background()

	require.True(t, client.UpdateUserProfile(ctx, func(p *records.UserProfile) {
		p.SetName("Ada")
		p.SetCustom("plan", "pro")
	}))

	paths := sender.getPaths()
	require.Len(t, paths, 1)
	require.JSONEq(t, `{"name":"Ada","custom":{"plan":"pro"}}`, decodePath(t, paths[0]).Get("user_details"))
	require.False(t, client.engine.Snapshot().ProfileChanged)

	// An update that changes nothing sends nothing
	require.True(t, client.UpdateUserProfile(ctx, func(p *records.UserProfile) {
		p.SetName("Ada")
	}))
	require.Len(t, sender.getPaths(), 1)
}

func TestUploadUserPictureRequirements(t *testing.T) {
	ctx := context.Background()
	picture := []byte("\x89PNG\r\n\x1a\n")

	// Test 1: a transport without picture support fails without sending
	client, sender := newTestClient(t, testConfig())
	require.False(t, client.UploadUserPicture(ctx, bytes.NewReader(picture)))
	require.Empty(t, sender.getPaths())

	// Test 2: users consent is required
	cfg := testConfig()
	cfg.ConsentRequired = true
	client, sender = newTestClient(t, cfg)
	require.False(t, client.UploadUserPicture(ctx, bytes.NewReader(picture)))
	require.Empty(t, sender.getPaths())
}

func TestChangeDeviceIDWithMerge(t *testing.T) {
	cfg := testConfig()
	cfg.DeviceID = "old-id"
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)

	require.Equal(t, "old-id", client.DeviceID())
	require.True(t, client.ChangeDeviceID(context.Background(), "new-id", true))
	require.Equal(t, "new-id", client.DeviceID())
	require.Equal(t, device.MethodDeveloperSupplied, client.DeviceIDType())

	snap := client.engine.Snapshot()
	require.Empty(t, snap.Sessions)
	require.Len(t, snap.Requests, 1)
	require.True(t, snap.Requests[0].IDMerge)

	params := decodePath(t, snap.Requests[0].Request)
	require.Equal(t, "new-id", params.Get("device_id"))
	require.Equal(t, "old-id", params.Get("old_device_id"))
}

func TestChangeDeviceIDWithoutMerge(t *testing.T) {
	cfg := testConfig()
	cfg.DeviceID = "old-id"
	client, sender := newTestClient(t, cfg)
	ctx := context.Background()

	require.True(t, client.BeginSession(ctx))
	require.True(t, client.StartEvent("checkout"))

	require.False(t, client.ChangeDeviceID(ctx, "", false))
	require.True(t, client.ChangeDeviceID(ctx, "old-id", false))
	require.True(t, client.ChangeDeviceID(ctx, "new-id", false))
	require.Equal(t, 0, client.TimedEvents())

	paths := sender.getPaths()
	require.Len(t, paths, 3)

	begin := decodePath(t, paths[0])
	end := decodePath(t, paths[1])
	restart := decodePath(t, paths[2])

	require.Equal(t, "old-id", begin.Get("device_id"))
	require.Equal(t, "1", end.Get("end_session"))
	require.Equal(t, "old-id", end.Get("device_id"))
	require.Equal(t, "1", restart.Get("begin_session"))
	require.Equal(t, "new-id", restart.Get("device_id"))
}

func TestChangeDeviceIDWithoutMergeRevokesConsent(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	cfg.DeviceID = "old-id"
	client, sender := newTestClient(t, cfg)
	ctx := context.Background()

	require.True(t, client.SetConsent(ctx, map[consent.Feature]bool{consent.Sessions: true}))
	require.True(t, client.BeginSession(ctx))
	require.Len(t, sender.getPaths(), 2)

	require.True(t, client.ChangeDeviceID(ctx, "new-id", false))
	require.Equal(t, "new-id", client.DeviceID())

	// Test 1: consent is reset locally, without a consent request
	require.False(t, client.IsConsentGiven(consent.Sessions))
	snap := client.engine.Snapshot()
	require.Empty(t, snap.Requests)

	// Test 2: the session ended under the old id and no new one began
	require.Empty(t, snap.Sessions)
	paths := sender.getPaths()
	require.Len(t, paths, 3)
	end := decodePath(t, paths[2])
	require.Equal(t, "1", end.Get("end_session"))
	require.Equal(t, "old-id", end.Get("device_id"))
	for _, path := range paths {
		params := decodePath(t, path)
		require.NotEqual(t, "new-id", params.Get("device_id"))
	}
}

func TestBackendEventPool(t *testing.T) {
	cfg := testConfig()
	cfg.BackendMode = true
	cfg.Pool = batch.Config{DeviceQueueSize: 2}
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)

	b := client.Backend()
	require.NotNil(t, b)
	ctx := context.Background()
	target := Target{DeviceID: "user-1", AppKey: "app-key"}

	require.True(t, b.RecordEvent(ctx, target, "a"))
	require.Empty(t, client.engine.Snapshot().Requests)

	// Test 1: the second event fills the device bucket
	require.True(t, b.RecordEvent(ctx, target, "b"))
	requests := client.engine.Snapshot().Requests
	require.Len(t, requests, 1)

	params := decodePath(t, requests[0].Request)
	require.Equal(t, "user-1", params.Get("device_id"))
	require.Equal(t, "0", params.Get("t"))
	var events []records.Event
	require.NoError(t, json.Unmarshal([]byte(params.Get("events")), &events))
	require.Len(t, events, 2)

	// Test 2: the third event starts a new bucket
	require.True(t, b.RecordEvent(ctx, target, "c"))
	require.Len(t, client.engine.Snapshot().Requests, 1)
	require.Equal(t, 1, client.pool.DeviceCount("user-1", "app-key"))

	// Test 3: events need a device id and app key
	require.False(t, b.RecordEvent(ctx, Target{AppKey: "app-key"}, "d"))
}

func TestBackendRequests(t *testing.T) {
	cfg := testConfig()
	cfg.BackendMode = true
	client, _ := newTestClient(t, cfg)
	client.SetDeferUpload(true)

	b := client.Backend()
	ctx := context.Background()
	target := Target{DeviceID: "user-7", AppKey: "other-app", Timestamp: 1700000000000}

	require.True(t, b.RecordUserProperties(ctx, target, map[string]any{
		"name":  "Ada",
		"level": 3,
		"tags":  `{"$push":"vip"}`,
		"bad":   []int{1},
	}))
	require.True(t, b.RecordDirectRequest(ctx, target, map[string]string{"begin_session": "1"}))
	require.True(t, b.ChangeDeviceIDWithMerge(ctx, target, "user-8"))
	require.False(t, b.UpdateSession(ctx, target, 0))

	requests := client.engine.Snapshot().Requests
	require.Len(t, requests, 3)

	details := decodePath(t, requests[0].Request)
	require.Equal(t, "other-app", details.Get("app_key"))
	require.Equal(t, "1700000000000", details.Get("timestamp"))
	require.JSONEq(t, `{"name":"Ada","custom":{"level":3,"tags":{"$push":"vip"}}}`, details.Get("user_details"))

	direct := decodePath(t, requests[1].Request)
	require.Equal(t, "1", direct.Get("dr"))

	merge := decodePath(t, requests[2].Request)
	require.True(t, requests[2].IDMerge)
	require.Equal(t, "user-8", merge.Get("device_id"))
	require.Equal(t, "user-7", merge.Get("old_device_id"))
}

func TestBackendDisabled(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	require.Nil(t, client.Backend())
}

func TestHalt(t *testing.T) {
	client, _ := newTestClient(t, testConfig())
	client.SetDeferUpload(true)
	ctx := context.Background()

	client.RecordEvent(ctx, "click")
	client.BeginSession(ctx)
	client.UpdateUserProfile(ctx, func(p *records.UserProfile) { p.SetEmail("ada@example.com") })

	require.NoError(t, client.Halt(ctx))

	snap := client.engine.Snapshot()
	require.Empty(t, snap.Events)
	require.Empty(t, snap.Sessions)
	require.False(t, snap.ProfileChanged)

	if client.RecordEvent(ctx, "click") {
		t.Error("RecordEvent after Halt should be rejected")
	}
}

func TestShutdownReportsQueuedRecords(t *testing.T) {
	sender := &fakeSender{fail: true}
	client, err := New(testConfig(), WithSender(sender), WithBlobStore(memory.New()), WithDeviceInfo(stubInfo{}))
	require.NoError(t, err)
	require.NoError(t, client.Init(context.Background()))

	require.False(t, client.RecordEvent(context.Background(), "click"))

	err = client.Shutdown(context.Background())
	require.ErrorIs(t, err, ErrUploadIncomplete)
}

func TestQueuesSurviveRestart(t *testing.T) {
	blobs := memory.New()
	cfg := testConfig()
	ctx := context.Background()

	first, err := New(cfg, WithSender(&fakeSender{fail: true}), WithBlobStore(blobs), WithDeviceInfo(stubInfo{}))
	require.NoError(t, err)
	require.NoError(t, first.Init(ctx))
	first.RecordEvent(ctx, "click")
	first.RecordException(ctx, "panic", "stack", nil, true)
	id := first.DeviceID()

	// Closing the first client would close the shared store
	first.cancel()

	sender := &fakeSender{}
	second, err := New(cfg, WithSender(sender), WithBlobStore(blobs), WithDeviceInfo(stubInfo{}))
	require.NoError(t, err)
	require.NoError(t, second.Init(ctx))
	defer second.Shutdown(ctx)

	require.Equal(t, id, second.DeviceID())
	require.True(t, second.Upload(ctx))

	paths := sender.getPaths()
	require.Len(t, paths, 2)
	require.NotEmpty(t, decodePath(t, paths[0]).Get("events"))
	require.NotEmpty(t, decodePath(t, paths[1]).Get("crash"))
}
