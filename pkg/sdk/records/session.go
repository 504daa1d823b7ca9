package records

import (
	"github.com/nicktill/beacon/pkg/sdk/request"
)

// MaxEndSessionDuration caps the duration reported by an end session request
const MaxEndSessionDuration = 60

// SessionKind tags the variant of a Session
type SessionKind string

const (
	SessionBegin  SessionKind = "begin"
	SessionUpdate SessionKind = "update"
	SessionEnd    SessionKind = "end"
)

// Session is a begin, update or end session record. The request is
// rendered when the record is created.
type Session struct {
	Kind    SessionKind `json:"kind"`
	Content string      `json:"content"`
}

// NewBeginSession renders a begin_session request carrying device metrics
// as a JSON object. extra carries optional location parameters.
func NewBeginSession(base *request.Params, metricsJSON string, extra *request.Params) Session {
	p := request.NewParams().
		Set("begin_session", "1").
		Set("metrics", metricsJSON).
		Merge(extra)
	return Session{Kind: SessionBegin, Content: request.Render(base, p)}
}

// NewUpdateSession renders a session_duration heartbeat
func NewUpdateSession(base *request.Params, elapsedSeconds int64) Session {
	p := request.NewParams().SetInt("session_duration", elapsedSeconds)
	return Session{Kind: SessionUpdate, Content: request.Render(base, p)}
}

// NewEndSession renders an end_session request. The duration is capped at
// MaxEndSessionDuration and left out when not positive.
func NewEndSession(base *request.Params, durationSeconds int64) Session {
	p := request.NewParams().Set("end_session", "1")
	if durationSeconds > 0 {
		p.SetInt("session_duration", min(durationSeconds, MaxEndSessionDuration))
	}
	return Session{Kind: SessionEnd, Content: request.Render(base, p)}
}

// Equal reports whether two sessions render the same request
func (s Session) Equal(other Session) bool {
	return s.Content == other.Content
}
