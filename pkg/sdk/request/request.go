// Package request builds the query strings sent to the collector's /i endpoint.
package request

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nicktill/beacon/pkg/sdk/clock"
)

// Path is the collector ingestion endpoint
const Path = "/i"

// Params is an insertion-ordered set of request parameters
type Params struct {
	keys   []string
	values map[string]string
}

// NewParams creates an empty parameter set
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set stores a parameter even when the value is empty.
// Setting an existing key replaces its value in place.
func (p *Params) Set(key, value string) *Params {
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// SetOptional stores a parameter only when the value is not empty
func (p *Params) SetOptional(key, value string) *Params {
	if value == "" {
		return p
	}
	return p.Set(key, value)
}

// SetInt stores an integer parameter
func (p *Params) SetInt(key string, value int64) *Params {
	return p.Set(key, strconv.FormatInt(value, 10))
}

// Get returns the value for key
func (p *Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of parameters
func (p *Params) Len() int {
	return len(p.keys)
}

// Keys returns parameter names in insertion order
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Merge appends every parameter of other, replacing duplicates in place
func (p *Params) Merge(other *Params) *Params {
	if other == nil {
		return p
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
	return p
}

// Clone returns an independent copy
func (p *Params) Clone() *Params {
	return NewParams().Merge(p)
}

// Encode renders k1=v1&k2=v2 with every value escaped
func (p *Params) Encode() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[k]))
	}
	return b.String()
}

// BaseInfo identifies the sender of a request
type BaseInfo struct {
	AppKey       string
	DeviceID     string
	SDKName      string
	SDKVersion   string
	AppVersion   string
	DeviceIDType int
}

// Base builds the parameters shared by every request type
func Base(info BaseInfo, in clock.Instant) *Params {
	p := NewParams()
	p.Set("app_key", info.AppKey)
	p.Set("device_id", info.DeviceID)
	p.SetInt("timestamp", in.Timestamp)
	p.Set("sdk_version", info.SDKVersion)
	p.Set("sdk_name", info.SDKName)
	p.SetInt("hour", int64(in.Hour))
	p.SetInt("dow", int64(in.Dow))
	p.SetInt("tz", int64(in.Timezone))
	p.SetInt("t", int64(info.DeviceIDType))
	p.SetOptional("av", info.AppVersion)
	return p
}

// Render joins base and extra parameters into a request path
func Render(base, extra *Params) string {
	all := base.Clone().Merge(extra)
	return Path + "?" + all.Encode()
}

// WithChecksum appends a checksum256 parameter computed over the query
// string and salt. An empty salt leaves the path unchanged.
func WithChecksum(path, salt string) string {
	if salt == "" {
		return path
	}
	query := path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		query = path[i+1:]
	}
	sum := sha256.Sum256([]byte(query + salt))
	return path + "&checksum256=" + hex.EncodeToString(sum[:])
}

// Decode parses a rendered request path back into its parameters
func Decode(path string) (url.Values, error) {
	query := path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		query = path[i+1:]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return values, nil
}
