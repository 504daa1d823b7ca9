package sdk

import (
	"context"
	"time"

	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/records"
)

// RecordException reports an error with its stack trace. Handled errors
// are queued and uploaded right away. Unhandled ones are only persisted:
// the process is assumed to be going down, so they are sent on the next
// run, and false is returned. Without crashes consent nothing is recorded
// and true is returned.
func (c *Client) RecordException(ctx context.Context, name, stack string, custom map[string]string, unhandled bool) bool {
	if !c.ready("RecordException") {
		return false
	}
	if !c.consent.IsGiven(consent.Crashes) {
		return true
	}

	crash := c.newCrash(name, stack, custom, unhandled)
	if crash == nil {
		return false
	}

	if unhandled {
		if !c.engine.AddUnhandledCrash(ctx, crash) {
			c.log.Error().Str("name", name).Msg("failed to persist unhandled crash")
		}
		return false
	}

	if !c.engine.AddCrash(ctx, crash) {
		return false
	}
	return c.engine.Upload(ctx)
}

// QueueException queues a handled error like RecordException but returns
// without waiting for the collector. The background uploader sends it.
func (c *Client) QueueException(ctx context.Context, name, stack string, custom map[string]string) bool {
	if !c.ready("QueueException") {
		return false
	}
	if !c.consent.IsGiven(consent.Crashes) {
		return true
	}

	crash := c.newCrash(name, stack, custom, false)
	if crash == nil || !c.engine.AddCrash(ctx, crash) {
		return false
	}
	c.wake()
	return true
}

// newCrash builds a trimmed crash report, or nil if it was rejected
func (c *Client) newCrash(name, stack string, custom map[string]string, unhandled bool) *records.Crash {
	crash, err := records.NewCrash(name, c.limits.TrimStackTrace(stack), !unhandled)
	if err != nil {
		c.log.Warn().Err(err).Msg("crash rejected")
		return nil
	}
	c.fillCrash(crash)
	crash.Custom = c.limits.FixCustom(custom, "crash")
	if len(crash.Custom) == 0 {
		crash.Custom = nil
	}
	return crash
}

// fillCrash adds the device details, breadcrumbs and run time
func (c *Client) fillCrash(crash *records.Crash) {
	crash.OS = c.info.OS()
	crash.OSVersion = c.info.OSVersion()
	crash.Device = c.info.Device()
	crash.Resolution = c.info.Resolution()
	crash.AppVersion = c.config.AppVersion
	crash.Online = true

	if state, ok := c.info.(device.StateProvider); ok {
		crash.Manufacturer = state.Manufacturer()
		crash.Orientation = state.Orientation()
		crash.Online = state.Online()
		if v := state.RAMCurrent(); v > 0 {
			crash.RAMCurrent = &v
		}
		if v := state.RAMTotal(); v > 0 {
			crash.RAMTotal = &v
		}
	}

	crash.Logs = c.crumbs.Joined()

	c.mu.Lock()
	if !c.runStart.IsZero() {
		crash.Run = int64(time.Since(c.runStart).Seconds())
	}
	c.mu.Unlock()
}

// AddBreadcrumb appends a line to the log attached to crash reports. Only
// the most recent MaxBreadcrumbCount lines are kept.
func (c *Client) AddBreadcrumb(value string) {
	c.limits.AddBreadcrumb(c.crumbs, value)
}
