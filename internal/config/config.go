// Package config loads and validates fetchd configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Retry      RetryConfig      `mapstructure:"retry"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Screenshot ScreenshotConfig `mapstructure:"screenshot"`
	Rotation   RotationConfig   `mapstructure:"rotation"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Observers  ObserversConfig  `mapstructure:"observers"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	DB         DBConfig         `mapstructure:"db"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig selects the driver each worker fetches with.
type BackendConfig struct {
	Kind string `mapstructure:"kind"`
}

// RetryConfig tunes the fetch retry loop.
type RetryConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	TransportBackoff time.Duration `mapstructure:"transport_backoff"`
	StatusBackoff    time.Duration `mapstructure:"status_backoff"`
}

// HTTPConfig configures the colly backend.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// PersistCookies keeps server-set cookies in the worker profile. Pooled
	// workers serve many callers, so it is off by default.
	PersistCookies bool `mapstructure:"persist_cookies"`
}

// HeadlessConfig configures browser backends.
type HeadlessConfig struct {
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	Bin           string `mapstructure:"bin"`
	NoSandbox     bool   `mapstructure:"no_sandbox"`
	Stealth       bool   `mapstructure:"stealth"`
}

// ScreenshotConfig picks the engine used for temporary screenshot browsers.
type ScreenshotConfig struct {
	Engine string `mapstructure:"engine"`
}

// RotationConfig lists the identities rotated between attempts.
type RotationConfig struct {
	Proxies    []string `mapstructure:"proxies"`
	UserAgents []string `mapstructure:"user_agents"`
}

// RateLimitConfig sets the per-host token bucket.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// WorkersConfig sizes the orchestrator pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// StorageConfig sets where artifacts are written.
type StorageConfig struct {
	WorkDir   string `mapstructure:"work_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ObserversConfig toggles the built-in failure sinks.
type ObserversConfig struct {
	Log        bool `mapstructure:"log"`
	Prometheus bool `mapstructure:"prometheus"`
}

// PubSubConfig holds metadata for failure notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the failure store.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// TracingConfig controls OpenTelemetry span sampling.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBWRAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("backend.kind", "http")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.transport_backoff", "2s")
	v.SetDefault("retry.status_backoff", "500ms")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.persist_cookies", false)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.bin", "")
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("headless.stealth", false)
	v.SetDefault("screenshot.engine", "chromedp")
	v.SetDefault("rotation.proxies", []string{})
	v.SetDefault("rotation.user_agents", []string{})
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 1)
	v.SetDefault("workers.count", 4)
	v.SetDefault("storage.work_dir", "artifacts")
	v.SetDefault("storage.prefix", "webwrapper")
	v.SetDefault("observers.log", true)
	v.SetDefault("observers.prometheus", true)
	v.SetDefault("db.table", "fetch_failures")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Backend.Kind {
	case "http", "chromedp", "rod":
	default:
		return fmt.Errorf("backend.kind must be one of http, chromedp, rod; got %q", c.Backend.Kind)
	}
	switch c.Screenshot.Engine {
	case "chromedp", "rod", "none":
	default:
		return fmt.Errorf("screenshot.engine must be one of chromedp, rod, none; got %q", c.Screenshot.Engine)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.TransportBackoff < 0 || c.Retry.StatusBackoff < 0 {
		return fmt.Errorf("retry backoffs must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Storage.WorkDir) == "" {
		return fmt.Errorf("storage.work_dir is required")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequestTimeout is the default per-attempt timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout bounds browser navigations.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
