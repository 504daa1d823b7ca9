package device

import (
	"os"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
)

// InfoProvider describes the device for begin_session metrics
type InfoProvider interface {
	OS() string
	OSVersion() string
	Device() string
	Resolution() string
	Carrier() string
	Locale() string
}

// StateProvider reports the volatile device state attached to crashes.
// Providers that cannot report it simply don't implement it.
type StateProvider interface {
	Manufacturer() string
	Orientation() string
	RAMCurrent() int64
	RAMTotal() int64
	Online() bool
}

// Metrics assembles the begin_session metrics map. Empty values are left
// out; override entries replace or extend the collected ones.
func Metrics(p InfoProvider, appVersion string, override map[string]string) map[string]string {
	m := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	if p != nil {
		set("_os", p.OS())
		set("_os_version", p.OSVersion())
		set("_device", p.Device())
		set("_resolution", p.Resolution())
		set("_carrier", p.Carrier())
		set("_locale", p.Locale())
	}
	set("_app_version", appVersion)
	for k, v := range override {
		m[k] = v
	}
	return m
}

// MetricsJSON renders Metrics as JSON
func MetricsJSON(p InfoProvider, appVersion string, override map[string]string) string {
	data, err := json.Marshal(Metrics(p, appVersion, override))
	if err != nil {
		return "{}"
	}
	return string(data)
}

// RuntimeInfo is the default provider, built from the Go runtime and the
// process environment
type RuntimeInfo struct {
	hostname string
}

// NewRuntimeInfo creates the default provider
func NewRuntimeInfo() *RuntimeInfo {
	host, _ := os.Hostname()
	return &RuntimeInfo{hostname: host}
}

func (r *RuntimeInfo) OS() string         { return runtime.GOOS }
func (r *RuntimeInfo) OSVersion() string  { return runtime.Version() }
func (r *RuntimeInfo) Device() string     { return r.hostname }
func (r *RuntimeInfo) Resolution() string { return "" }
func (r *RuntimeInfo) Carrier() string    { return "" }

// Locale reads LC_ALL, LC_MESSAGES or LANG, e.g. "en_US.UTF-8" -> "en_US"
func (r *RuntimeInfo) Locale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" && v != "C" && v != "POSIX" {
			if i := strings.IndexAny(v, ".@"); i >= 0 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}

func (r *RuntimeInfo) Manufacturer() string { return runtime.GOARCH }
func (r *RuntimeInfo) Orientation() string  { return "" }

// RAMCurrent returns the heap in use, in megabytes
func (r *RuntimeInfo) RAMCurrent() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.HeapAlloc / (1024 * 1024))
}

// RAMTotal returns the memory obtained from the OS, in megabytes
func (r *RuntimeInfo) RAMTotal() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Sys / (1024 * 1024))
}

// Online always reports true; connectivity shows up as failed uploads
func (r *RuntimeInfo) Online() bool { return true }

var (
	_ InfoProvider  = (*RuntimeInfo)(nil)
	_ StateProvider = (*RuntimeInfo)(nil)
)
