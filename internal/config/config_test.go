package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "http", cfg.Backend.Kind)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Retry.TransportBackoff)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.StatusBackoff)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
	require.Equal(t, 45*time.Second, cfg.NavTimeout())
	require.Equal(t, "chromedp", cfg.Screenshot.Engine)
	require.Equal(t, 4, cfg.Workers.Count)
	require.True(t, cfg.Observers.Log)
	require.Equal(t, "fetch_failures", cfg.DB.Table)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
backend:
  kind: rod
retry:
  max_attempts: 5
  transport_backoff: 3s
  status_backoff: 250ms
http:
  timeout_seconds: 10
  respect_robots: true
  persist_cookies: true
headless:
  nav_timeout_seconds: 20
  no_sandbox: true
  stealth: true
screenshot:
  engine: none
rotation:
  proxies: ["proxy-a:8080", "http://user:pw@proxy-b:3128"]
  user_agents: ["agent-1", "agent-2"]
ratelimit:
  rps: 2.5
  burst: 3
workers:
  count: 8
storage:
  work_dir: /tmp/artifacts
  gcs_bucket: bucket
pubsub:
  project_id: proj
  topic_name: failures
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "rod", cfg.Backend.Kind)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, 3*time.Second, cfg.Retry.TransportBackoff)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.StatusBackoff)
	require.True(t, cfg.HTTP.RespectRobots)
	require.True(t, cfg.HTTP.PersistCookies)
	require.True(t, cfg.Headless.Stealth)
	require.Equal(t, "none", cfg.Screenshot.Engine)
	require.Equal(t, []string{"proxy-a:8080", "http://user:pw@proxy-b:3128"}, cfg.Rotation.Proxies)
	require.Equal(t, []string{"agent-1", "agent-2"}, cfg.Rotation.UserAgents)
	require.InDelta(t, 2.5, cfg.RateLimit.RPS, 0)
	require.Equal(t, 8, cfg.Workers.Count)
	require.Equal(t, "bucket", cfg.Storage.GCSBucket)
	require.Equal(t, "failures", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WEBWRAPPER_BACKEND_KIND", "chromedp")
	t.Setenv("WEBWRAPPER_WORKERS_COUNT", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "chromedp", cfg.Backend.Kind)
	require.Equal(t, 2, cfg.Workers.Count)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend.Kind = "curl" }, want: "backend.kind"},
		{name: "unknown engine", mutate: func(c *Config) { c.Screenshot.Engine = "phantomjs" }, want: "screenshot.engine"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, want: "retry.max_attempts"},
		{name: "negative backoff", mutate: func(c *Config) { c.Retry.StatusBackoff = -time.Second }, want: "backoffs"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "no workers", mutate: func(c *Config) { c.Workers.Count = 0 }, want: "workers.count"},
		{name: "negative rps", mutate: func(c *Config) { c.RateLimit.RPS = -1 }, want: "ratelimit.rps"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "no work dir", mutate: func(c *Config) { c.Storage.WorkDir = " " }, want: "storage.work_dir"},
		{name: "half pubsub", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub"},
		{name: "sample ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, want: "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "expected %q in %v", tt.want, err)
		})
	}
}
