package sdk

import (
	"context"
	"strconv"

	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/records"
)

// ViewEventKey is the event key views are recorded under
const ViewEventKey = "[CLY]_view"

type eventOptions struct {
	count     int
	sum       *float64
	duration  *float64
	seg       *records.Segmentation
	timestamp int64
}

// EventOption sets an optional event field
type EventOption func(*eventOptions)

// WithCount sets the event count. The default is 1.
func WithCount(n int) EventOption {
	return func(o *eventOptions) { o.count = n }
}

// WithSum attaches a sum, e.g. a purchase amount
func WithSum(sum float64) EventOption {
	return func(o *eventOptions) { o.sum = records.Float(sum) }
}

// WithDuration attaches a duration in seconds
func WithDuration(seconds float64) EventOption {
	return func(o *eventOptions) { o.duration = records.Float(seconds) }
}

// WithSegmentation attaches segmentation
func WithSegmentation(seg *records.Segmentation) EventOption {
	return func(o *eventOptions) { o.seg = seg }
}

// WithTimestamp records the event at ms instead of now
func WithTimestamp(ms int64) EventOption {
	return func(o *eventOptions) { o.timestamp = ms }
}

func buildEventOptions(opts []EventOption) eventOptions {
	o := eventOptions{count: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RecordEvent queues a custom event and triggers an upload. Without events
// consent the event is dropped and true is returned.
func (c *Client) RecordEvent(ctx context.Context, key string, opts ...EventOption) bool {
	if !c.ready("RecordEvent") {
		return false
	}
	return c.recordEvent(ctx, key, buildEventOptions(opts), false)
}

// QueueEvent queues a custom event like RecordEvent but returns without
// waiting for the collector. The background uploader sends it.
func (c *Client) QueueEvent(ctx context.Context, key string, opts ...EventOption) bool {
	if !c.ready("QueueEvent") {
		return false
	}
	queued, ok := c.addEvent(ctx, key, buildEventOptions(opts), false)
	if queued {
		c.wake()
	}
	return ok
}

// recordEvent is shared by custom events, timed events and views.
// Views are gated by their own consent, so they override the events gate.
func (c *Client) recordEvent(ctx context.Context, key string, o eventOptions, consentOverride bool) bool {
	queued, ok := c.addEvent(ctx, key, o, consentOverride)
	if !queued {
		return ok
	}
	return c.engine.Upload(ctx)
}

// addEvent validates and queues an event. queued is false when the event
// was dropped for missing consent (ok) or rejected (not ok).
func (c *Client) addEvent(ctx context.Context, key string, o eventOptions, consentOverride bool) (queued, ok bool) {
	if !consentOverride && !c.consent.IsGiven(consent.Events) {
		return false, true
	}

	key = c.limits.TrimKey(key, "event")
	seg := c.limits.FixSegmentation(o.seg, "event")

	in := c.clock.Now()
	if o.timestamp > 0 {
		in = c.clock.At(o.timestamp)
	}

	ev, err := records.NewEvent(key, o.count, o.sum, o.duration, seg, in)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("event rejected")
		return false, false
	}

	if !c.engine.AddEvent(ctx, ev) {
		return false, false
	}
	return true, true
}

// StartEvent starts timing an event. It reports false if the event is
// already running or events consent is missing.
func (c *Client) StartEvent(key string) bool {
	if !c.ready("StartEvent") || !c.consent.IsGiven(consent.Events) {
		return false
	}
	key = c.limits.TrimKey(key, "timed event")
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.timedEvents[key]; ok {
		c.log.Warn().Str("key", key).Msg("timed event already started")
		return false
	}
	c.timedEvents[key] = c.clock.UniqueMillis()
	return true
}

// EndEvent stops a timed event and records it with its duration in seconds.
// It reports false if the event was never started.
func (c *Client) EndEvent(ctx context.Context, key string, opts ...EventOption) bool {
	if !c.ready("EndEvent") {
		return false
	}
	key = c.limits.TrimKey(key, "timed event")

	c.mu.Lock()
	start, ok := c.timedEvents[key]
	delete(c.timedEvents, key)
	c.mu.Unlock()

	if !ok {
		c.log.Warn().Str("key", key).Msg("timed event was not started")
		return false
	}

	o := buildEventOptions(opts)
	elapsed := float64(c.clock.UniqueMillis()-start) / 1000
	o.duration = records.Float(elapsed)
	return c.recordEvent(ctx, key, o, false)
}

// CancelEvent drops a running timed event without recording it
func (c *Client) CancelEvent(key string) bool {
	key = c.limits.TrimKey(key, "timed event")

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.timedEvents[key]; !ok {
		return false
	}
	delete(c.timedEvents, key)
	return true
}

// TimedEvents returns the number of running timed events
func (c *Client) TimedEvents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timedEvents)
}

func (c *Client) cancelTimedEvents() {
	c.mu.Lock()
	n := len(c.timedEvents)
	c.timedEvents = make(map[string]int64)
	c.mu.Unlock()

	if n > 0 {
		c.log.Debug().Int("count", n).Msg("timed events cancelled")
	}
}

// RecordView records a view visit. The previous view, if any, is closed
// with its duration first. Without views consent nothing is recorded and
// false is returned.
func (c *Client) RecordView(ctx context.Context, name string) bool {
	if !c.ready("RecordView") {
		return false
	}
	if name == "" {
		c.log.Warn().Msg("view name cannot be empty")
		return false
	}
	if !c.consent.IsGiven(consent.Views) {
		return false
	}
	name = c.limits.TrimKey(name, "view")

	c.reportViewDuration(ctx)

	c.mu.Lock()
	c.lastView = name
	c.lastViewStart = c.clock.UniqueMillis()
	first := c.firstView
	c.firstView = false
	c.mu.Unlock()

	seg := records.NewSegmentation(
		"name", name,
		"visit", "1",
		"segment", c.info.OS(),
	)
	if first {
		seg.Add("start", "1")
	}
	return c.recordEvent(ctx, ViewEventKey, eventOptions{count: 1, seg: seg}, true)
}

// reportViewDuration closes the current view, if any
func (c *Client) reportViewDuration(ctx context.Context) {
	if !c.consent.IsGiven(consent.Views) {
		return
	}

	c.mu.Lock()
	name, start := c.lastView, c.lastViewStart
	c.lastView, c.lastViewStart = "", 0
	c.mu.Unlock()

	if name == "" || start <= 0 {
		return
	}

	seconds := (c.clock.UniqueMillis() - start) / 1000
	seg := records.NewSegmentation(
		"name", name,
		"dur", strconv.FormatInt(seconds, 10),
		"segment", c.info.OS(),
	)
	c.recordEvent(ctx, ViewEventKey, eventOptions{count: 1, seg: seg}, true)
}
