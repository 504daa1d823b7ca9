// Package config holds shared defaults and loads the SDK and collector
// configuration from the environment and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nicktill/beacon/pkg/sdk"
	"github.com/nicktill/beacon/pkg/sdk/batch"
	"github.com/nicktill/beacon/pkg/sdk/consent"
	"github.com/nicktill/beacon/pkg/sdk/limits"
)

// Collector defaults
const (
	DefaultCollectorAddr  = ":8080"
	DefaultRecentRequests = 500
	ShutdownTimeout       = 10 * time.Second
)

// Collector HTTP timeouts
const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 15 * time.Second
	WriteTimeout      = 15 * time.Second
	IdleTimeout       = 60 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// SDK holds the client configuration loaded from the environment
type SDK struct {
	// ServerURL is the collector base URL (e.g. https://collector.example.com).
	ServerURL string `mapstructure:"BEACON_SERVER_URL"`
	// AppKey identifies the app on the collector.
	AppKey     string `mapstructure:"BEACON_APP_KEY"`
	AppVersion string `mapstructure:"BEACON_APP_VERSION"`
	// DeviceID is an optional developer supplied device id.
	DeviceID string `mapstructure:"BEACON_DEVICE_ID"`

	ConsentRequired bool `mapstructure:"BEACON_CONSENT_REQUIRED"`
	// Consent is a comma-separated list of features granted at startup (e.g. "sessions,events").
	Consent string `mapstructure:"BEACON_CONSENT"`

	SessionUpdateInterval time.Duration `mapstructure:"BEACON_SESSION_UPDATE_INTERVAL"`
	MergeWait             time.Duration `mapstructure:"BEACON_MERGE_WAIT"`
	RequestTimeout        time.Duration `mapstructure:"BEACON_REQUEST_TIMEOUT"`
	Salt                  string        `mapstructure:"BEACON_SALT"`

	// Storage is one of memory, file or badger.
	Storage     string `mapstructure:"BEACON_STORAGE"`
	StoragePath string `mapstructure:"BEACON_STORAGE_PATH"`

	MaxKeyLength          int `mapstructure:"BEACON_MAX_KEY_LENGTH"`
	MaxValueSize          int `mapstructure:"BEACON_MAX_VALUE_SIZE"`
	MaxSegmentationValues int `mapstructure:"BEACON_MAX_SEGMENTATION_VALUES"`
	MaxBreadcrumbCount    int `mapstructure:"BEACON_MAX_BREADCRUMB_COUNT"`

	BackendMode     bool          `mapstructure:"BEACON_BACKEND_MODE"`
	DeviceQueueSize int           `mapstructure:"BEACON_DEVICE_QUEUE_SIZE"`
	AppQueueSize    int           `mapstructure:"BEACON_APP_QUEUE_SIZE"`
	GlobalQueueSize int           `mapstructure:"BEACON_GLOBAL_QUEUE_SIZE"`
	PoolDumpEvery   time.Duration `mapstructure:"BEACON_POOL_DUMP_EVERY"`
}

// Collector holds the collector server configuration
type Collector struct {
	// Addr is the address the collector listens on (e.g. :8080).
	Addr string `mapstructure:"COLLECTOR_ADDR"`
	// RecentRequests is how many decoded requests are kept for GET /requests.
	RecentRequests int `mapstructure:"COLLECTOR_RECENT_REQUESTS"`
	// ForceStatus makes every /i request fail with this status (0 disables).
	ForceStatus int `mapstructure:"COLLECTOR_FORCE_STATUS"`
	// Salt enables checksum256 verification; it must match the SDK's BEACON_SALT.
	Salt string `mapstructure:"COLLECTOR_SALT"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	return v
}

// LoadSDK reads .env (if present), then builds and validates the SDK
// configuration from the environment. Env vars override .env.
func LoadSDK() (*SDK, error) {
	v := newViper()

	v.SetDefault("BEACON_SERVER_URL", "")
	v.SetDefault("BEACON_APP_KEY", "")
	v.SetDefault("BEACON_APP_VERSION", "")
	v.SetDefault("BEACON_DEVICE_ID", "")
	v.SetDefault("BEACON_CONSENT_REQUIRED", false)
	v.SetDefault("BEACON_CONSENT", "")
	v.SetDefault("BEACON_SESSION_UPDATE_INTERVAL", sdk.DefaultSessionUpdateInterval)
	v.SetDefault("BEACON_MERGE_WAIT", sdk.DefaultMergeWait)
	v.SetDefault("BEACON_REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("BEACON_SALT", "")
	v.SetDefault("BEACON_STORAGE", string(sdk.StorageBadger))
	v.SetDefault("BEACON_STORAGE_PATH", "")
	v.SetDefault("BEACON_MAX_KEY_LENGTH", limits.DefaultMaxKeyLength)
	v.SetDefault("BEACON_MAX_VALUE_SIZE", limits.DefaultMaxValueSize)
	v.SetDefault("BEACON_MAX_SEGMENTATION_VALUES", limits.DefaultMaxSegmentationValues)
	v.SetDefault("BEACON_MAX_BREADCRUMB_COUNT", limits.DefaultMaxBreadcrumbCount)
	v.SetDefault("BEACON_BACKEND_MODE", false)
	v.SetDefault("BEACON_DEVICE_QUEUE_SIZE", batch.DefaultDeviceQueueSize)
	v.SetDefault("BEACON_APP_QUEUE_SIZE", batch.DefaultAppQueueSize)
	v.SetDefault("BEACON_GLOBAL_QUEUE_SIZE", batch.DefaultGlobalQueueSize)
	v.SetDefault("BEACON_POOL_DUMP_EVERY", batch.DefaultDumpEvery)

	var cfg SDK
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.ServerURL == "" {
		return nil, errors.New("config: BEACON_SERVER_URL must be set")
	}
	if cfg.AppKey == "" {
		return nil, errors.New("config: BEACON_APP_KEY must be set")
	}
	switch sdk.StorageBackend(cfg.Storage) {
	case sdk.StorageMemory, sdk.StorageFile, sdk.StorageBadger:
	default:
		return nil, errors.New("config: BEACON_STORAGE must be one of memory, file, badger")
	}
	if cfg.SessionUpdateInterval < 0 {
		return nil, errors.New("config: BEACON_SESSION_UPDATE_INTERVAL must not be negative")
	}
	if _, err := cfg.ConsentFeatures(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConsentFeatures parses the comma-separated BEACON_CONSENT list
func (c *SDK) ConsentFeatures() (map[consent.Feature]bool, error) {
	if c == nil || c.Consent == "" {
		return nil, nil
	}
	out := make(map[consent.Feature]bool)
	for _, part := range strings.Split(c.Consent, ",") {
		f := consent.Feature(strings.TrimSpace(part))
		if f == "" {
			continue
		}
		if !f.Valid() {
			return nil, errors.New("config: BEACON_CONSENT has unknown feature " + string(f))
		}
		out[f] = true
	}
	return out, nil
}

// ClientConfig maps the loaded values to an sdk.Config
func (c *SDK) ClientConfig() sdk.Config {
	given, _ := c.ConsentFeatures()
	return sdk.Config{
		ServerURL:             c.ServerURL,
		AppKey:                c.AppKey,
		AppVersion:            c.AppVersion,
		DeviceID:              c.DeviceID,
		ConsentRequired:       c.ConsentRequired,
		GivenConsent:          given,
		SessionUpdateInterval: c.SessionUpdateInterval,
		Limits: limits.Config{
			MaxKeyLength:          c.MaxKeyLength,
			MaxValueSize:          c.MaxValueSize,
			MaxSegmentationValues: c.MaxSegmentationValues,
			MaxBreadcrumbCount:    c.MaxBreadcrumbCount,
		},
		Salt:           c.Salt,
		MergeWait:      c.MergeWait,
		RequestTimeout: c.RequestTimeout,
		BackendMode:    c.BackendMode,
		Pool: batch.Config{
			DeviceQueueSize: c.DeviceQueueSize,
			AppQueueSize:    c.AppQueueSize,
			GlobalQueueSize: c.GlobalQueueSize,
			DumpEvery:       c.PoolDumpEvery,
		},
		Storage:     sdk.StorageBackend(c.Storage),
		StoragePath: c.StoragePath,
	}
}

// LoadCollector reads .env (if present), then builds and validates the
// collector configuration from the environment
func LoadCollector() (*Collector, error) {
	v := newViper()

	v.SetDefault("COLLECTOR_ADDR", DefaultCollectorAddr)
	v.SetDefault("COLLECTOR_RECENT_REQUESTS", DefaultRecentRequests)
	v.SetDefault("COLLECTOR_FORCE_STATUS", 0)
	v.SetDefault("COLLECTOR_SALT", "")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Collector
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("config: COLLECTOR_ADDR must be set")
	}
	if cfg.RecentRequests <= 0 {
		cfg.RecentRequests = DefaultRecentRequests
	}
	if cfg.ForceStatus != 0 && (cfg.ForceStatus < 100 || cfg.ForceStatus > 599) {
		return nil, errors.New("config: COLLECTOR_FORCE_STATUS must be a valid HTTP status")
	}

	return &cfg, nil
}
