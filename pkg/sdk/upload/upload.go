package upload

import (
	"context"
	"net/url"
	"time"

	"github.com/nicktill/beacon/pkg/sdk/queue"
	"github.com/nicktill/beacon/pkg/sdk/records"
	"github.com/nicktill/beacon/pkg/sdk/request"
)

// Upload drains the queues in order: sessions, events, crashes, user
// profile, stored requests. It stops at the first failed request and
// leaves that record at the head of its queue. Passes repeat while records
// arrive during the network round trips.
//
// If another upload is in flight the call returns true right away.
func (e *Engine) Upload(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}

		e.mu.Lock()
		deferred := e.deferUpload
		e.mu.Unlock()
		if deferred {
			return true
		}

		if !e.uploadSessions(ctx) ||
			!e.uploadEvents(ctx) ||
			!e.uploadCrashes(ctx) ||
			!e.uploadProfile(ctx) ||
			!e.uploadStoredRequests(ctx) {
			return false
		}

		e.mu.Lock()
		more := !e.inProgress && e.pendingLocked()
		e.mu.Unlock()
		if !more {
			return true
		}
	}
}

// acquireLocked claims the in-progress flag. Caller holds e.mu.
func (e *Engine) acquireLocked() bool {
	if e.inProgress {
		return false
	}
	e.inProgress = true
	return true
}

func (e *Engine) uploadSessions(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if len(e.sessions) == 0 || !e.acquireLocked() {
			e.mu.Unlock()
			return true
		}
		head := e.sessions[0]
		path := head.Content
		payload, rev, withProfile := e.profilePayloadLocked()
		if withProfile {
			path += "&user_details=" + url.QueryEscape(payload)
		}
		e.mu.Unlock()

		ok := e.send(ctx, path)

		e.mu.Lock()
		if ok {
			if len(e.sessions) > 0 && e.sessions[0].Equal(head) {
				e.sessions = e.sessions[1:]
				e.store.Save(ctx, queue.SessionsFile, e.sessions)
			}
			if withProfile {
				e.clearProfileLocked(ctx, rev)
			}
		}
		e.inProgress = false
		e.mu.Unlock()

		if !ok {
			return false
		}
	}
}

func (e *Engine) uploadEvents(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if len(e.events) == 0 || !e.acquireLocked() {
			e.mu.Unlock()
			return true
		}
		n := min(len(e.events), e.config.EventBatchSize)
		batch := append([]*records.Event(nil), e.events[:n]...)
		epoch := e.epoch
		payload, rev, withProfile := e.profilePayloadLocked()
		e.mu.Unlock()

		eventsJSON, err := encodeJSON(batch)
		if err != nil {
			e.log.Error().Err(err).Int("count", n).Msg("failed to encode events")
			e.release()
			return false
		}

		extra := request.NewParams().Set("events", eventsJSON)
		if withProfile {
			extra.Set("user_details", payload)
		}
		ok := e.send(ctx, request.Render(e.Base(), extra))

		e.mu.Lock()
		if ok && epoch == e.epoch {
			// Only appends happen while the flag is held, so the batch is
			// still at the head.
			e.events = e.events[n:]
			e.store.Save(ctx, queue.EventsFile, e.events)
		}
		if ok && withProfile {
			e.clearProfileLocked(ctx, rev)
		}
		e.inProgress = false
		e.mu.Unlock()

		if !ok {
			return false
		}
	}
}

func (e *Engine) uploadCrashes(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if len(e.crashes) == 0 || !e.acquireLocked() {
			e.mu.Unlock()
			return true
		}
		head := e.crashes[0]
		e.mu.Unlock()

		crashJSON, err := encodeJSON(head)
		if err != nil {
			e.log.Error().Err(err).Msg("failed to encode crash")
			e.release()
			return false
		}

		extra := request.NewParams().Set("crash", crashJSON)
		ok := e.send(ctx, request.Render(e.Base(), extra))

		e.mu.Lock()
		if ok {
			if len(e.crashes) > 0 && e.crashes[0] == head {
				e.crashes = e.crashes[1:]
				e.store.Save(ctx, queue.ExceptionsFile, e.crashes)
			}
		}
		e.inProgress = false
		e.mu.Unlock()

		if !ok {
			return false
		}
	}
}

func (e *Engine) uploadProfile(ctx context.Context) bool {
	e.mu.Lock()
	payload, rev, dirty := e.profilePayloadLocked()
	if !dirty || !e.acquireLocked() {
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	extra := request.NewParams().Set("user_details", payload)
	ok := e.send(ctx, request.Render(e.Base(), extra))

	e.mu.Lock()
	if ok {
		e.clearProfileLocked(ctx, rev)
	}
	e.inProgress = false
	e.mu.Unlock()

	return ok
}

func (e *Engine) uploadStoredRequests(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if len(e.requests) == 0 || !e.acquireLocked() {
			e.mu.Unlock()
			return true
		}
		head := e.requests[0]
		e.mu.Unlock()

		if head.IDMerge && e.config.MergeWait > 0 {
			e.log.Debug().Dur("wait", e.config.MergeWait).Msg("waiting before device id merge")
			if !sleep(ctx, e.config.MergeWait) {
				e.release()
				return false
			}
		}

		ok := e.send(ctx, head.Request)

		e.mu.Lock()
		if ok {
			if len(e.requests) > 0 && e.requests[0] == head {
				e.requests = e.requests[1:]
				e.store.Save(ctx, queue.StoredRequestsFile, e.requests)
			}
		}
		e.inProgress = false
		e.mu.Unlock()

		if !ok {
			return false
		}
	}
}

func (e *Engine) release() {
	e.mu.Lock()
	e.inProgress = false
	e.mu.Unlock()
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
