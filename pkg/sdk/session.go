package sdk

import (
	"context"
	"time"

	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/device"
	"github.com/nicktill/beacon/pkg/sdk/records"
)

// BeginSession starts a session: it queues a begin_session request with
// the device metrics and starts the periodic session update timer.
// Without sessions consent nothing is queued, but the attempt is
// remembered so that granting consent later begins the session.
func (c *Client) BeginSession(ctx context.Context) bool {
	if !c.ready("BeginSession") {
		return false
	}

	now := time.Now()
	c.mu.Lock()
	c.sessionStart = now
	c.lastUpdate = now
	c.mu.Unlock()

	if !c.consent.IsGiven(consent.Sessions) {
		return true
	}
	return c.beginSession(ctx)
}

func (c *Client) beginSession(ctx context.Context) bool {
	c.mu.Lock()
	c.sessionActive = true
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	c.startTimer()

	metrics := device.MetricsJSON(c.info, c.config.AppVersion, c.config.MetricOverride)
	s := records.NewBeginSession(c.engine.Base(), metrics, nil)
	return c.addSession(ctx, s)
}

// UpdateSession reports elapsedSeconds of session time
func (c *Client) UpdateSession(ctx context.Context, elapsedSeconds int64) bool {
	if !c.ready("UpdateSession") {
		return false
	}
	if elapsedSeconds < 0 {
		c.log.Warn().Int64("elapsed", elapsedSeconds).Msg("elapsed time cannot be negative")
		return false
	}
	if !c.consent.IsGiven(consent.Sessions) {
		return true
	}

	c.mu.Lock()
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	return c.addSession(ctx, records.NewUpdateSession(c.engine.Base(), elapsedSeconds))
}

// EndSession closes the current view, stops the update timer and queues
// an end_session request with the time since the last update
func (c *Client) EndSession(ctx context.Context) bool {
	if !c.ready("EndSession") {
		return false
	}
	c.reportViewDuration(ctx)
	c.stopTimer()

	if !c.consent.IsGiven(consent.Sessions) {
		c.mu.Lock()
		c.sessionActive = false
		c.mu.Unlock()
		return true
	}
	return c.endSession(ctx)
}

// endSession queues the end request regardless of consent. It is used
// when sessions consent is being revoked.
func (c *Client) endSession(ctx context.Context) bool {
	c.stopTimer()

	c.mu.Lock()
	c.sessionActive = false
	elapsed := int64(time.Since(c.lastUpdate).Seconds())
	c.mu.Unlock()

	return c.addSession(ctx, records.NewEndSession(c.engine.Base(), elapsed))
}

func (c *Client) addSession(ctx context.Context, s records.Session) bool {
	if !c.engine.AddSession(ctx, s) {
		return false
	}
	return c.engine.Upload(ctx)
}

// startTimer starts the session update loop, replacing a running one
func (c *Client) startTimer() {
	c.stopTimer()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)
	done := make(chan struct{})
	c.timerCancel, c.timerDone = cancel, done

	go c.sessionLoop(ctx, done, c.config.SessionUpdateInterval)
}

// stopTimer stops the session update loop and waits for it to exit
func (c *Client) stopTimer() {
	c.mu.Lock()
	cancel, done := c.timerCancel, c.timerDone
	c.timerCancel, c.timerDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// sessionLoop sends a session update every interval with the seconds
// elapsed since the previous update
func (c *Client) sessionLoop(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.consent.IsGiven(consent.Sessions) {
				continue
			}
			c.mu.Lock()
			elapsed := int64(time.Since(c.lastUpdate).Seconds())
			c.lastUpdate = time.Now()
			c.mu.Unlock()

			c.log.Debug().Int64("elapsed", elapsed).Msg("session update")
			if !c.addSession(ctx, records.NewUpdateSession(c.engine.Base(), elapsed)) {
				c.log.Debug().Msg("session update queued for retry")
			}
		}
	}
}
