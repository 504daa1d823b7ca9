package records

import (
	"errors"
	"sort"
	"strings"

	"github.com/nicktill/beacon/pkg/sdk/clock"
)

var (
	// ErrEmptyKey is returned when an event key is empty or whitespace
	ErrEmptyKey = errors.New("event key cannot be empty")

	// ErrInvalidCount is returned when an event count is not positive
	ErrInvalidCount = errors.New("event count must be greater than 0")

	// ErrEmptyCrash is returned when a crash has neither name nor stack
	ErrEmptyCrash = errors.New("crash name cannot be empty")

	// ErrEmptyRequest is returned when a stored request has no content
	ErrEmptyRequest = errors.New("stored request cannot be empty")
)

// Event is a custom analytics event
type Event struct {
	Key          string        `json:"key"`
	Count        int           `json:"count"`
	Sum          *float64      `json:"sum,omitempty"`
	Duration     *float64      `json:"dur,omitempty"`
	Segmentation *Segmentation `json:"segmentation,omitempty"`
	Timestamp    int64         `json:"timestamp"`
	Hour         int           `json:"hour"`
	Dow          int           `json:"dow"`
	Timezone     int           `json:"tz"`
}

// NewEvent validates and creates an event stamped with the given instant
func NewEvent(key string, count int, sum, duration *float64, seg *Segmentation, in clock.Instant) (*Event, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	if seg != nil && seg.Len() == 0 {
		seg = nil
	}
	return &Event{
		Key:          key,
		Count:        count,
		Sum:          sum,
		Duration:     duration,
		Segmentation: seg,
		Timestamp:    in.Timestamp,
		Hour:         in.Hour,
		Dow:          in.Dow,
		Timezone:     in.Timezone,
	}, nil
}

// Float returns a pointer to v, for optional sum and duration fields
func Float(v float64) *float64 {
	return &v
}

// Crash is the payload of a crash report. Keys follow the collector's
// underscore-prefixed naming.
type Crash struct {
	OS           string            `json:"_os,omitempty"`
	OSVersion    string            `json:"_os_version,omitempty"`
	Device       string            `json:"_device,omitempty"`
	Resolution   string            `json:"_resolution,omitempty"`
	AppVersion   string            `json:"_app_version,omitempty"`
	Manufacturer string            `json:"_manufacture,omitempty"`
	Orientation  string            `json:"_orientation,omitempty"`
	RAMCurrent   *int64            `json:"_ram_current,omitempty"`
	RAMTotal     *int64            `json:"_ram_total,omitempty"`
	Online       bool              `json:"_online"`
	Name         string            `json:"_name"`
	Error        string            `json:"_error"`
	NonFatal     bool              `json:"_nonfatal"`
	Logs         string            `json:"_logs,omitempty"`
	Run          int64             `json:"_run"`
	Custom       map[string]string `json:"_custom,omitempty"`
}

// NewCrash creates a crash record. When stack is empty the name is used as
// the error text.
func NewCrash(name, stack string, nonFatal bool) (*Crash, error) {
	if strings.TrimSpace(name) == "" && strings.TrimSpace(stack) == "" {
		return nil, ErrEmptyCrash
	}
	if stack == "" {
		stack = name
	}
	return &Crash{
		Name:     name,
		Error:    stack,
		NonFatal: nonFatal,
	}, nil
}

// StoredRequest is a fully rendered request waiting for delivery
type StoredRequest struct {
	Request string `json:"request"`
	IDMerge bool   `json:"idMerge"`
}

// NewStoredRequest wraps a rendered request path
func NewStoredRequest(req string, idMerge bool) (StoredRequest, error) {
	if req == "" {
		return StoredRequest{}, ErrEmptyRequest
	}
	return StoredRequest{Request: req, IDMerge: idMerge}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
