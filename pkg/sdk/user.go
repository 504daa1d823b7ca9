package sdk

import (
	"context"
	"io"

	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/records"
	"github.com/nicktill/beacon/pkg/sdk/request"
)

// UpdateUserProfile applies fn to the user profile, trims the result and
// uploads it if anything changed. The profile is only sent with users
// consent; until then changes are kept locally.
//
//	client.UpdateUserProfile(ctx, func(p *records.UserProfile) {
//	    p.SetName("Ada")
//	    p.SetCustom("plan", "pro")
//	})
func (c *Client) UpdateUserProfile(ctx context.Context, fn func(p *records.UserProfile)) bool {
	if !c.ready("UpdateUserProfile") {
		return false
	}
	dirty := c.engine.UpdateProfile(ctx, func(p *records.UserProfile) {
		fn(p)
		c.limits.FixProfile(p)
	})
	if !dirty {
		return true
	}
	return c.engine.Upload(ctx)
}

// UploadUserPicture sends a PNG, GIF or JPEG picture for the user profile.
// It is not queued: false means the picture has to be sent again. Pending
// profile changes are delivered with it. Requires users consent.
func (c *Client) UploadUserPicture(ctx context.Context, picture io.Reader) bool {
	if !c.ready("UploadUserPicture") {
		return false
	}
	if !c.consent.IsGiven(consent.Users) {
		return false
	}
	return c.engine.UploadPicture(ctx, picture)
}

// Location is the user location sent to the collector. Empty fields are
// left out.
type Location struct {
	// GPS is "latitude,longitude"
	GPS         string
	IP          string
	CountryCode string
	City        string
}

func (l Location) empty() bool {
	return l == Location{}
}

// SetLocation queues a location request. It reports false when every
// field is empty. Without location consent nothing is sent and true is
// returned.
func (c *Client) SetLocation(ctx context.Context, loc Location) bool {
	if !c.ready("SetLocation") {
		return false
	}
	if !c.consent.IsGiven(consent.Location) {
		return true
	}
	if loc.empty() {
		c.log.Warn().Msg("location has no fields set")
		return false
	}

	p := request.NewParams().
		SetOptional("location", loc.GPS).
		SetOptional("ip", loc.IP).
		SetOptional("country_code", loc.CountryCode).
		SetOptional("city", loc.City)
	return c.enqueue(ctx, p, false)
}

// DisableLocation tells the collector to stop tracking the user location
func (c *Client) DisableLocation(ctx context.Context) bool {
	if !c.ready("DisableLocation") {
		return false
	}
	if !c.consent.IsGiven(consent.Location) {
		return true
	}
	return c.disableLocation(ctx)
}

func (c *Client) disableLocation(ctx context.Context) bool {
	p := request.NewParams().
		Set("location", "").
		Set("ip", "").
		Set("country_code", "").
		Set("city", "")
	return c.enqueue(ctx, p, false)
}
