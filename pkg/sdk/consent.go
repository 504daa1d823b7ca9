package sdk

import (
	"context"

	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/request"
)

// IsConsentGiven reports whether feature f may be used. When consent is
// not required every feature is allowed.
func (c *Client) IsConsentGiven(f consent.Feature) bool {
	return c.consent.IsGiven(f)
}

// SetConsent grants or revokes features. If anything changed, one consent
// request carrying the full state of every feature is queued, then the
// side effects of the changes are applied:
//   - revoking events cancels the running timed events
//   - revoking location sends a disable location request
//   - granting sessions begins the session if one was attempted before
//   - revoking sessions ends the running session
//
// SetConsent is a no-op when consent is not required.
func (c *Client) SetConsent(ctx context.Context, changes map[consent.Feature]bool) bool {
	if !c.ready("SetConsent") {
		return false
	}

	changed := c.consent.Set(changes)
	if len(changed) == 0 {
		return true
	}

	payload, err := c.consent.Payload()
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode consent")
		return false
	}
	path := request.Render(c.engine.Base(), request.NewParams().Set("consent", payload))
	queued := c.engine.AddRequest(ctx, path, false)

	// Fixed order keeps the queued requests deterministic
	for _, f := range consent.AllFeatures {
		given, ok := changed[f]
		if !ok {
			continue
		}
		c.log.Info().Str("feature", string(f)).Bool("given", given).Msg("consent changed")

		switch f {
		case consent.Events:
			if !given {
				c.cancelTimedEvents()
			}
		case consent.Location:
			if !given {
				c.disableLocation(ctx)
			}
		case consent.Sessions:
			c.mu.Lock()
			attempted := !c.sessionStart.IsZero()
			active := c.sessionActive
			c.mu.Unlock()

			switch {
			case given && attempted && !active:
				c.beginSession(ctx)
			case !given && active:
				c.endSession(ctx)
			}
		}
	}

	if !queued {
		return false
	}
	return c.engine.Upload(ctx)
}
