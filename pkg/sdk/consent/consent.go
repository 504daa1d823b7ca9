// Package consent tracks which SDK features the user agreed to.
package consent

import (
	"bytes"
	"sync"

	"github.com/goccy/go-json"
)

// Feature names a consent-gated SDK feature
type Feature string

const (
	Sessions     Feature = "sessions"
	Events       Feature = "events"
	Location     Feature = "location"
	Crashes      Feature = "crashes"
	Users        Feature = "users"
	Views        Feature = "views"
	Push         Feature = "push"
	Feedback     Feature = "feedback"
	StarRating   Feature = "star-rating"
	RemoteConfig Feature = "remote-config"
)

// AllFeatures lists every feature in payload order
var AllFeatures = []Feature{
	Sessions,
	Events,
	Location,
	Crashes,
	Users,
	Views,
	Push,
	Feedback,
	StarRating,
	RemoteConfig,
}

// Valid reports whether f is a known feature
func (f Feature) Valid() bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// Ledger holds per-feature consent. When consent is not required every
// feature counts as given; otherwise unset features are denied.
type Ledger struct {
	mu       sync.RWMutex
	required bool
	given    map[Feature]bool
}

// NewLedger creates a ledger. initial is applied without side effects.
func NewLedger(required bool, initial map[Feature]bool) *Ledger {
	l := &Ledger{required: required, given: make(map[Feature]bool)}
	for f, v := range initial {
		if f.Valid() {
			l.given[f] = v
		}
	}
	return l
}

// Required reports whether consent is enforced
func (l *Ledger) Required() bool {
	return l.required
}

// IsGiven reports whether feature f may be used
func (l *Ledger) IsGiven(f Feature) bool {
	if !l.required {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.given[f]
}

// Set applies changes and returns only the entries that actually changed.
// Unknown features are ignored. When consent is not required nothing
// changes.
func (l *Ledger) Set(changes map[Feature]bool) map[Feature]bool {
	if !l.required {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	changed := make(map[Feature]bool)
	for f, v := range changes {
		if !f.Valid() {
			continue
		}
		if l.given[f] == v {
			continue
		}
		l.given[f] = v
		changed[f] = v
	}
	return changed
}

// RevokeAll denies every feature and returns the ones that were given
func (l *Ledger) RevokeAll() []Feature {
	l.mu.Lock()
	defer l.mu.Unlock()

	var revoked []Feature
	for _, f := range AllFeatures {
		if l.given[f] {
			revoked = append(revoked, f)
		}
		l.given[f] = false
	}
	return revoked
}

// State returns the current flag for every feature
func (l *Ledger) State() map[Feature]bool {
	out := make(map[Feature]bool, len(AllFeatures))
	for _, f := range AllFeatures {
		out[f] = l.IsGiven(f)
	}
	return out
}

// Payload renders the full current state as the consent request JSON,
// keys in fixed order
func (l *Ledger) Payload() (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range AllFeatures {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(f))
		if err != nil {
			return "", err
		}
		buf.Write(key)
		if l.IsGiven(f) {
			buf.WriteString(":true")
		} else {
			buf.WriteString(":false")
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}
