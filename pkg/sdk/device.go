package sdk

import (
	"context"
	"strings"

	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/request"
)

// DeviceID returns the current device id
func (c *Client) DeviceID() string {
	return c.identity.Current().Value
}

// DeviceIDType returns how the current device id was obtained
func (c *Client) DeviceIDType() device.Method {
	return c.identity.Current().Method
}

// ChangeDeviceID switches to a developer supplied device id.
//
// With merge the collector is asked to merge the data of the old id into
// the new one; the running session continues under the new id.
//
// Without merge the device is treated as a new user: running timed events
// are cancelled, the session is ended under the old id, consent is reset
// locally when it is required, and a new session begins under the new id.
func (c *Client) ChangeDeviceID(ctx context.Context, id string, merge bool) bool {
	if !c.ready("ChangeDeviceID") {
		return false
	}
	if strings.TrimSpace(id) == "" {
		c.log.Warn().Msg("new device id cannot be empty")
		return false
	}
	if id == c.DeviceID() {
		return true
	}

	if merge {
		return c.changeWithMerge(ctx, id)
	}
	return c.changeWithoutMerge(ctx, id)
}

func (c *Client) changeWithMerge(ctx context.Context, id string) bool {
	old := c.identity.Set(ctx, id, device.MethodDeveloperSupplied)
	c.log.Info().Str("old", old.Value).Str("new", id).Msg("device id changed with merge")

	return c.enqueue(ctx, request.NewParams().Set("old_device_id", old.Value), true)
}

func (c *Client) changeWithoutMerge(ctx context.Context, id string) bool {
	c.cancelTimedEvents()

	c.mu.Lock()
	active := c.sessionActive
	c.mu.Unlock()

	if active {
		c.EndSession(ctx)
	}

	// Records still queued are rendered with the device id at send time.
	// Try to deliver them under the id they were recorded with.
	c.engine.Upload(ctx)

	old := c.identity.Set(ctx, id, device.MethodDeveloperSupplied)
	c.log.Info().Str("old", old.Value).Str("new", id).Msg("device id changed")

	if c.consent.Required() {
		// Local reset only: a consent request would be sent under the new id
		if revoked := c.consent.RevokeAll(); len(revoked) > 0 {
			c.log.Info().Int("count", len(revoked)).Msg("consent revoked for new device id")
		}
	}

	if active {
		return c.BeginSession(ctx)
	}
	return true
}
