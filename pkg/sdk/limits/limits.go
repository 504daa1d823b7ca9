// Package limits truncates record fields to the configured maximums before
// they are queued.
package limits

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/nicktill/beacon/pkg/sdk/records"
)

// Default limits
const (
	DefaultMaxKeyLength                = 128
	DefaultMaxValueSize                = 256
	DefaultMaxSegmentationValues       = 100
	DefaultMaxBreadcrumbCount          = 100
	DefaultMaxStackTraceLinesPerThread = 30
	DefaultMaxStackTraceLineLength     = 200
)

// Config holds the field limits. Zero values are replaced by defaults.
type Config struct {
	MaxKeyLength                int
	MaxValueSize                int
	MaxSegmentationValues       int
	MaxBreadcrumbCount          int
	MaxStackTraceLinesPerThread int
	MaxStackTraceLineLength     int
}

// WithDefaults fills unset limits
func (c Config) WithDefaults() Config {
	if c.MaxKeyLength <= 0 {
		c.MaxKeyLength = DefaultMaxKeyLength
	}
	if c.MaxValueSize <= 0 {
		c.MaxValueSize = DefaultMaxValueSize
	}
	if c.MaxSegmentationValues <= 0 {
		c.MaxSegmentationValues = DefaultMaxSegmentationValues
	}
	if c.MaxBreadcrumbCount <= 0 {
		c.MaxBreadcrumbCount = DefaultMaxBreadcrumbCount
	}
	if c.MaxStackTraceLinesPerThread <= 0 {
		c.MaxStackTraceLinesPerThread = DefaultMaxStackTraceLinesPerThread
	}
	if c.MaxStackTraceLineLength <= 0 {
		c.MaxStackTraceLineLength = DefaultMaxStackTraceLineLength
	}
	return c
}

// Enforcer applies Config to record fields
type Enforcer struct {
	cfg Config
	log zerolog.Logger
}

// New creates an enforcer
func New(cfg Config, log zerolog.Logger) *Enforcer {
	return &Enforcer{cfg: cfg.WithDefaults(), log: log}
}

// Config returns the effective limits
func (e *Enforcer) Config() Config {
	return e.cfg
}

// Truncate cuts s to at most max runes. Applying it twice is the same as
// applying it once.
func Truncate(s string, max int) string {
	if max < 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// TrimKey truncates a key to MaxKeyLength
func (e *Enforcer) TrimKey(key, where string) string {
	out := Truncate(key, e.cfg.MaxKeyLength)
	if out != key {
		e.log.Warn().Str("where", where).Int("max", e.cfg.MaxKeyLength).Msg("key truncated")
	}
	return out
}

// TrimValue truncates a value to MaxValueSize
func (e *Enforcer) TrimValue(value, where string) string {
	out := Truncate(value, e.cfg.MaxValueSize)
	if out != value {
		e.log.Warn().Str("where", where).Int("max", e.cfg.MaxValueSize).Msg("value truncated")
	}
	return out
}

// FixSegmentation drops entries beyond MaxSegmentationValues, in insertion
// order, then trims the remaining keys and values. Entries whose key is
// empty after trimming are dropped. A nil input returns nil.
func (e *Enforcer) FixSegmentation(seg *records.Segmentation, where string) *records.Segmentation {
	if seg == nil {
		return nil
	}
	items := seg.Items()
	if len(items) > e.cfg.MaxSegmentationValues {
		e.log.Warn().
			Str("where", where).
			Int("count", len(items)).
			Int("max", e.cfg.MaxSegmentationValues).
			Msg("segmentation entries dropped")
		items = items[:e.cfg.MaxSegmentationValues]
	}

	out := records.NewSegmentation()
	for _, it := range items {
		key := e.TrimKey(it.Key, where)
		if key == "" {
			continue
		}
		out.Add(key, e.TrimValue(it.Value, where))
	}
	return out
}

// FixCustom applies the segmentation rules to a plain map. Entries beyond
// the limit are dropped in sorted key order.
func (e *Enforcer) FixCustom(m map[string]string, where string) map[string]string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seg := records.NewSegmentation()
	for _, k := range keys {
		seg.Add(k, m[k])
	}
	fixed := e.FixSegmentation(seg, where)

	out := make(map[string]string, fixed.Len())
	for _, it := range fixed.Items() {
		out[it.Key] = it.Value
	}
	return out
}

// FixProfile trims every string field of the profile and its custom map
func (e *Enforcer) FixProfile(p *records.UserProfile) {
	p.SetName(e.TrimValue(p.Name(), "user.name"))
	p.SetUsername(e.TrimValue(p.Username(), "user.username"))
	p.SetEmail(e.TrimValue(p.Email(), "user.email"))
	p.SetOrganization(e.TrimValue(p.Organization(), "user.organization"))
	p.SetPhone(e.TrimValue(p.Phone(), "user.phone"))
	p.SetGender(e.TrimValue(p.Gender(), "user.gender"))
	// picture is left untouched
	p.ReplaceCustom(e.FixSegmentation(p.Custom(), "user.custom"))
}

// TrimStackTrace keeps at most MaxStackTraceLinesPerThread lines, each cut
// to MaxStackTraceLineLength
func (e *Enforcer) TrimStackTrace(stack string) string {
	if stack == "" {
		return stack
	}
	lines := strings.Split(stack, "\n")
	if len(lines) > e.cfg.MaxStackTraceLinesPerThread {
		lines = lines[:e.cfg.MaxStackTraceLinesPerThread]
	}
	for i, line := range lines {
		lines[i] = Truncate(line, e.cfg.MaxStackTraceLineLength)
	}
	return strings.Join(lines, "\n")
}

// Breadcrumbs is a bounded log of recent actions attached to crash reports.
// When full, the oldest entry is evicted.
type Breadcrumbs struct {
	mu    sync.Mutex
	items []string
	max   int
}

// NewBreadcrumbs creates a ring holding up to MaxBreadcrumbCount entries
func (e *Enforcer) NewBreadcrumbs() *Breadcrumbs {
	return &Breadcrumbs{max: e.cfg.MaxBreadcrumbCount}
}

// AddBreadcrumb trims value and appends it to b
func (e *Enforcer) AddBreadcrumb(b *Breadcrumbs, value string) {
	b.Add(e.TrimValue(value, "breadcrumb"))
}

// Add appends an entry, evicting the oldest on overflow
func (b *Breadcrumbs) Add(value string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, value)
	if over := len(b.items) - b.max; over > 0 {
		b.items = append(b.items[:0], b.items[over:]...)
	}
}

// Items returns the entries, oldest first
func (b *Breadcrumbs) Items() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.items))
	copy(out, b.items)
	return out
}

// Joined returns the entries separated by newlines
func (b *Breadcrumbs) Joined() string {
	return strings.Join(b.Items(), "\n")
}

// Clear removes every entry
func (b *Breadcrumbs) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
