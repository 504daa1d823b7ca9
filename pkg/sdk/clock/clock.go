// Package clock issues the time instants attached to every outbound record.
package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Instant is a timestamp plus the calendar fields the collector expects
// alongside it.
type Instant struct {
	Timestamp int64 `json:"timestamp"` // unix millis
	Hour      int   `json:"hour"`
	Dow       int   `json:"dow"`
	Timezone  int   `json:"tz"` // minutes east of UTC
}

// Source produces strictly increasing millisecond timestamps.
type Source struct {
	mu   sync.Mutex
	last int64

	now      func() time.Time
	location *time.Location
	log      zerolog.Logger
}

// Option configures a Source
type Option func(*Source)

// WithNow replaces the wall clock
func WithNow(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// WithLocation sets the location used for hour, dow and tz
func WithLocation(loc *time.Location) Option {
	return func(s *Source) { s.location = loc }
}

// WithLogger sets the logger used for clamping warnings
func WithLogger(log zerolog.Logger) Option {
	return func(s *Source) { s.log = log }
}

// New creates a new time source
func New(opts ...Option) *Source {
	s := &Source{
		now:      time.Now,
		location: time.Local,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns a unique instant. Two calls never return the same timestamp,
// even when the wall clock has not advanced between them.
func (s *Source) Now() Instant {
	return s.instant(s.UniqueMillis())
}

// UniqueMillis returns the next unique unix millisecond value
func (s *Source) UniqueMillis() int64 {
	ms := s.now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last >= ms {
		s.last++
	} else {
		s.last = ms
	}
	return s.last
}

// At returns the instant for a caller supplied timestamp.
// Negative values are clamped to zero.
func (s *Source) At(ms int64) Instant {
	if ms < 0 {
		s.log.Warn().Int64("timestamp", ms).Msg("negative timestamp clamped to 0")
		ms = 0
	}
	return s.instant(ms)
}

func (s *Source) instant(ms int64) Instant {
	t := time.UnixMilli(ms).In(s.location)
	_, offset := t.Zone()
	return Instant{
		Timestamp: ms,
		Hour:      t.Hour(),
		Dow:       int(t.Weekday()),
		Timezone:  offset / 60,
	}
}
