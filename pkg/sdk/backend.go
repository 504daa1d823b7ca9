package sdk

import (
	"context"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/records"
	"github.com/nicktill/beacon/pkg/sdk/request"
)

// userPredefinedKeys are the user properties sent at the top level of
// user_details; everything else goes under custom
var userPredefinedKeys = map[string]bool{
	"name":         true,
	"username":     true,
	"email":        true,
	"organization": true,
	"phone":        true,
	"gender":       true,
	"byear":        true,
	"picture":      true,
}

// crashMetricKeys are the metrics copied into a backend crash report
var crashMetricKeys = map[string]bool{
	"_os":           true,
	"_os_version":   true,
	"_ram_total":    true,
	"_ram_current":  true,
	"_disk_total":   true,
	"_disk_current": true,
	"_online":       true,
	"_muted":        true,
	"_resolution":   true,
	"_app_version":  true,
	"_manufacture":  true,
	"_device":       true,
	"_orientation":  true,
	"_run":          true,
}

// Target addresses a backend call. Empty fields fall back to the client's
// own device id and app key; a zero Timestamp means now.
type Target struct {
	DeviceID  string
	AppKey    string
	Timestamp int64
}

// Backend records on behalf of many devices and apps, e.g. from a server
// relaying its users' activity. Events are buffered per device and app in
// an event pool; every other call queues a stored request directly.
type Backend struct {
	client *Client
}

// Backend returns the backend mode API, or nil when backend mode is off
func (c *Client) Backend() *Backend {
	return c.backend
}

// flush turns a pool bucket into one events request. It runs with the
// pool locked, so it only queues; the upload loop sends.
func (b *Backend) flush(deviceID, appKey string, events []*records.Event) {
	c := b.client
	data, err := json.Marshal(events)
	if err != nil {
		c.log.Error().Err(err).Int("count", len(events)).Msg("failed to encode backend events")
		return
	}

	base := b.base(Target{DeviceID: deviceID, AppKey: appKey})
	path := request.Render(base, request.NewParams().Set("events", string(data)))
	if c.engine.AddRequest(c.ctx, path, false) {
		c.wake()
	}
	c.log.Debug().Str("device_id", deviceID).Str("app_key", appKey).Int("count", len(events)).Msg("event bucket flushed")
}

// resolve fills empty target fields from the client
func (b *Backend) resolve(t Target) Target {
	if t.DeviceID == "" {
		t.DeviceID = b.client.DeviceID()
	}
	if t.AppKey == "" {
		t.AppKey = b.client.config.AppKey
	}
	return t
}

// base builds the base params of t. Backend requests always carry t=0:
// the caller owns the device ids.
func (b *Backend) base(t Target) *request.Params {
	c := b.client
	in := c.clock.Now()
	if t.Timestamp > 0 {
		in = c.clock.At(t.Timestamp)
	}
	return request.Base(request.BaseInfo{
		AppKey:       t.AppKey,
		DeviceID:     t.DeviceID,
		SDKName:      SDKName,
		SDKVersion:   SDKVersion,
		DeviceIDType: device.MethodDeveloperSupplied.TypeCode(),
	}, in)
}

func (b *Backend) enqueue(ctx context.Context, t Target, extra *request.Params) bool {
	c := b.client
	path := request.Render(b.base(b.resolve(t)), extra)
	if !c.engine.AddRequest(ctx, path, false) {
		return false
	}
	return c.engine.Upload(ctx)
}

// RecordEvent buffers an event for t in the event pool. Device id, app
// key and event key are required.
func (b *Backend) RecordEvent(ctx context.Context, t Target, key string, opts ...EventOption) bool {
	c := b.client
	if !c.ready("Backend.RecordEvent") {
		return false
	}
	if t.DeviceID == "" || t.AppKey == "" {
		c.log.Warn().Str("key", key).Msg("backend event needs a device id and app key")
		return false
	}

	o := buildEventOptions(opts)
	if o.count <= 0 {
		o.count = 1
	}
	ts := t.Timestamp
	if o.timestamp > 0 {
		ts = o.timestamp
	}
	in := c.clock.Now()
	if ts > 0 {
		in = c.clock.At(ts)
	}

	key = c.limits.TrimKey(key, "backend event")
	ev, err := records.NewEvent(key, o.count, o.sum, o.duration, c.limits.FixSegmentation(o.seg, "backend event"), in)
	if err != nil {
		c.log.Warn().Err(err).Msg("backend event rejected")
		return false
	}

	c.pool.Put(t.DeviceID, t.AppKey, ev)
	return true
}

// BeginSession queues a begin_session request. Nil metrics are taken from
// the client's device info; location entries are added as parameters.
func (b *Backend) BeginSession(ctx context.Context, t Target, metrics, location map[string]string) bool {
	c := b.client
	if !c.ready("Backend.BeginSession") {
		return false
	}
	if metrics == nil {
		metrics = device.Metrics(c.info, c.config.AppVersion, c.config.MetricOverride)
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		c.log.Warn().Err(err).Msg("backend session metrics rejected")
		return false
	}

	p := request.NewParams().
		Set("begin_session", "1").
		Set("metrics", string(data))
	for _, k := range sortedKeys(location) {
		p.Set(k, location[k])
	}
	return b.enqueue(ctx, t, p)
}

// UpdateSession queues a session heartbeat. duration must be at least one
// second.
func (b *Backend) UpdateSession(ctx context.Context, t Target, duration int64) bool {
	c := b.client
	if !c.ready("Backend.UpdateSession") {
		return false
	}
	if duration < 1 {
		c.log.Warn().Int64("duration", duration).Msg("backend session duration must be positive")
		return false
	}
	return b.enqueue(ctx, t, request.NewParams().SetInt("session_duration", duration))
}

// EndSession queues an end_session request. A negative duration is left
// out.
func (b *Backend) EndSession(ctx context.Context, t Target, duration int64) bool {
	if !b.client.ready("Backend.EndSession") {
		return false
	}
	p := request.NewParams().Set("end_session", "1")
	if duration >= 0 {
		p.SetInt("session_duration", duration)
	}
	return b.enqueue(ctx, t, p)
}

// StartView records a view visit for t
func (b *Backend) StartView(ctx context.Context, t Target, name, segment string, firstView bool, seg *records.Segmentation) bool {
	if seg == nil {
		seg = records.NewSegmentation()
	} else {
		seg = seg.Clone()
	}
	if firstView {
		seg.Add("start", "1")
	}
	seg.Add("visit", "1")
	return b.recordView(ctx, t, name, segment, nil, seg)
}

// StopView records the duration in seconds of a view for t
func (b *Backend) StopView(ctx context.Context, t Target, name, segment string, duration int64, seg *records.Segmentation) bool {
	if duration < 0 {
		b.client.log.Warn().Int64("duration", duration).Msg("view duration cannot be negative")
		return false
	}
	if seg == nil {
		seg = records.NewSegmentation()
	} else {
		seg = seg.Clone()
	}
	return b.recordView(ctx, t, name, segment, records.Float(float64(duration)), seg)
}

func (b *Backend) recordView(ctx context.Context, t Target, name, segment string, dur *float64, seg *records.Segmentation) bool {
	c := b.client
	if name == "" {
		c.log.Warn().Msg("view name cannot be empty")
		return false
	}
	if segment == "" {
		segment = c.info.OS()
	}
	seg.Add("segment", segment)
	seg.Add("name", name)

	opts := []EventOption{WithSegmentation(seg)}
	if dur != nil {
		opts = append(opts, WithDuration(*dur))
	}
	return b.RecordEvent(ctx, b.resolve(t), ViewEventKey, opts...)
}

// CrashReport is a crash recorded through the backend API
type CrashReport struct {
	Error       string
	StackTrace  string
	Breadcrumbs []string
	Custom      map[string]any
	// Metrics entries with known crash keys, e.g. "_os", are copied into
	// the report
	Metrics   map[string]string
	Unhandled bool
}

// RecordException queues a crash request for t. Unlike the client's own
// crashes, backend crashes are sent right away whether fatal or not.
func (b *Backend) RecordException(ctx context.Context, t Target, r CrashReport) bool {
	c := b.client
	if !c.ready("Backend.RecordException") {
		return false
	}
	if r.Error == "" {
		c.log.Warn().Msg("backend crash needs an error")
		return false
	}

	crash := map[string]any{
		"_name":     r.Error,
		"_nonfatal": !r.Unhandled,
	}
	if len(r.Breadcrumbs) > 0 {
		crash["_logs"] = strings.Join(r.Breadcrumbs, "\n")
	}
	if r.StackTrace != "" {
		crash["_error"] = c.limits.TrimStackTrace(r.StackTrace)
	}
	if custom := b.scalars(r.Custom, "crash custom"); len(custom) > 0 {
		crash["_custom"] = custom
	}
	for k, v := range r.Metrics {
		if crashMetricKeys[k] {
			crash[k] = v
		}
	}

	data, err := json.Marshal(crash)
	if err != nil {
		c.log.Warn().Err(err).Msg("backend crash rejected")
		return false
	}
	return b.enqueue(ctx, t, request.NewParams().Set("crash", string(data)))
}

// RecordUserProperties queues a user_details request for t. Known keys
// such as "name" or "email" go to the top level, the rest under custom.
// String values that hold a JSON object are sent as objects, so custom
// properties can carry modifiers like {"$inc":1}.
func (b *Backend) RecordUserProperties(ctx context.Context, t Target, props map[string]any) bool {
	c := b.client
	if !c.ready("Backend.RecordUserProperties") {
		return false
	}
	props = b.scalars(props, "user properties")
	if len(props) == 0 {
		c.log.Warn().Msg("no valid user properties")
		return false
	}

	details := make(map[string]any)
	custom := make(map[string]any)
	for k, v := range props {
		if userPredefinedKeys[k] {
			details[k] = v
			continue
		}
		if s, ok := v.(string); ok && len(s) > 0 && s[0] == '{' && json.Valid([]byte(s)) {
			v = json.RawMessage(s)
		}
		custom[k] = v
	}
	if len(custom) > 0 {
		details["custom"] = custom
	}

	data, err := json.Marshal(details)
	if err != nil {
		c.log.Warn().Err(err).Msg("user properties rejected")
		return false
	}
	return b.enqueue(ctx, t, request.NewParams().Set("user_details", string(data)))
}

// RecordDirectRequest queues a request with arbitrary parameters for t,
// marked with dr=1
func (b *Backend) RecordDirectRequest(ctx context.Context, t Target, params map[string]string) bool {
	c := b.client
	if !c.ready("Backend.RecordDirectRequest") {
		return false
	}
	if len(params) == 0 {
		c.log.Warn().Msg("direct request has no parameters")
		return false
	}

	p := request.NewParams()
	for _, k := range sortedKeys(params) {
		p.Set(k, params[k])
	}
	p.Set("dr", "1")
	return b.enqueue(ctx, t, p)
}

// ChangeDeviceIDWithMerge asks the collector to merge the data of
// t.DeviceID into newID. The request is sent under newID.
func (b *Backend) ChangeDeviceIDWithMerge(ctx context.Context, t Target, newID string) bool {
	c := b.client
	if !c.ready("Backend.ChangeDeviceIDWithMerge") {
		return false
	}
	if newID == "" {
		c.log.Warn().Msg("new device id cannot be empty")
		return false
	}

	old := b.resolve(t)
	target := Target{DeviceID: newID, AppKey: old.AppKey, Timestamp: t.Timestamp}
	path := request.Render(b.base(target), request.NewParams().Set("old_device_id", old.DeviceID))
	if !c.engine.AddRequest(ctx, path, true) {
		return false
	}
	return c.engine.Upload(ctx)
}

// scalars keeps the entries holding a bool, integer, float or string
func (b *Backend) scalars(in map[string]any, where string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch v.(type) {
		case bool, int, int32, int64, float32, float64, string:
			out[k] = v
		default:
			b.client.log.Warn().Str("where", where).Str("key", k).Msgf("unsupported value type %T dropped", v)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
