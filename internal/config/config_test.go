package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/gemini-relay/internal/secret"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "RELAY_LISTEN", "GOOGLE_API_KEY", "RELAY_MODEL", "RELAY_UPSTREAM_BASE_URL",
		"RELAY_UPSTREAM_TIMEOUT_MS", "RELAY_API_KEY", "RELAY_STATIC_DIR", "RELAY_SERVE_STATIC",
		"RELAY_PID_FILE", "RELAY_READ_TIMEOUT_MS", "RELAY_WRITE_TIMEOUT_MS", "RELAY_LOG_LEVEL",
		"RELAY_LOG_FORMAT", "RELAY_TRAFFIC_DUMP_ENABLED", "RELAY_TRAFFIC_DUMP_DIR",
		"RELAY_TRAFFIC_DUMP_MAX_BYTES", "RELAY_METRICS_ENABLED", "RELAY_MASTER_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":4000", cfg.Server.Listen)
	assert.Equal(t, DefaultBaseURL, cfg.Upstream.BaseURL)
	assert.Equal(t, "gemini-2.5-flash", cfg.Upstream.Model)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 120*time.Second, cfg.UpstreamTimeout())
	assert.Equal(t, "./public", cfg.Server.StaticDir)
	assert.Empty(t, cfg.Path)
	assert.True(t, cfg.StaticEnabled())
	assert.True(t, cfg.MaskSecrets())
	assert.True(t, cfg.AccessLogEnabled())
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, []string{"GOOGLE_API_KEY not set: generation requests will fail with 500"}, cfg.Warnings())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("GOOGLE_API_KEY", "AIza-test")
	t.Setenv("RELAY_MODEL", "gemini-2.0-flash")
	t.Setenv("RELAY_UPSTREAM_TIMEOUT_MS", "-1")
	t.Setenv("RELAY_SERVE_STATIC", "off")
	t.Setenv("RELAY_METRICS_ENABLED", "yes")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Listen)
	assert.Equal(t, "AIza-test", cfg.Upstream.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Upstream.Model)
	assert.Equal(t, time.Duration(0), cfg.UpstreamTimeout())
	assert.False(t, cfg.StaticEnabled())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Empty(t, cfg.Warnings())
}

func TestLoad_ListenBeatsPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("RELAY_LISTEN", "127.0.0.1:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Listen)
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "relay.yaml", `
server:
  listen: ":5000"
  max_body_bytes: 1024
  serve_static: false
upstream:
  base_url: "http://127.0.0.1:9999/v1beta"
  model: "gemini-test"
  api_key: "from-file"
  timeout_ms: 1500
traffic_dump:
  enabled: true
  mask_secrets: false
logging:
  level: warn
  format: json
  access_log: false
metrics:
  enabled: true
  path: /internal/metrics
`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, p, cfg.Path)
	assert.Equal(t, ":5000", cfg.Server.Listen)
	assert.Equal(t, int64(1024), cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.StaticEnabled())
	assert.Equal(t, "http://127.0.0.1:9999/v1beta", cfg.Upstream.BaseURL)
	assert.Equal(t, "gemini-test", cfg.Upstream.Model)
	assert.Equal(t, "from-file", cfg.Upstream.APIKey)
	assert.Equal(t, 1500*time.Millisecond, cfg.UpstreamTimeout())
	assert.True(t, cfg.TrafficDump.Enabled)
	assert.False(t, cfg.MaskSecrets())
	assert.False(t, cfg.AccessLogEnabled())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "from-env")
	p := writeFile(t, "relay.yaml", "upstream:\n  api_key: from-file\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Upstream.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{name: "bad_yaml", yaml: "server: [\n"},
		{name: "negative_body_limit", yaml: "server:\n  max_body_bytes: -1\n"},
		{name: "negative_timeout", yaml: "upstream:\n  timeout_ms: -5\n"},
		{name: "model_with_colon", yaml: "upstream:\n  model: \"gemini:bad\"\n"},
		{name: "relative_base_url", yaml: "upstream:\n  base_url: \"/v1beta\"\n"},
		{name: "ftp_base_url", yaml: "upstream:\n  base_url: \"ftp://example.com\"\n"},
		{name: "bad_level", yaml: "logging:\n  level: loud\n"},
		{name: "bad_format", yaml: "logging:\n  format: xml\n"},
		{name: "bad_metrics_path", yaml: "metrics:\n  path: metrics\n"},
		{name: "negative_dump_bytes", yaml: "traffic_dump:\n  max_bytes: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeFile(t, "relay.yaml", tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv("RELAY_TEST_FROM_DOTENV", "")
	t.Setenv("RELAY_TEST_PRESET", "kept")
	require.NoError(t, os.Unsetenv("RELAY_TEST_FROM_DOTENV"))

	p := writeFile(t, ".env", "RELAY_TEST_FROM_DOTENV=loaded\nRELAY_TEST_PRESET=overwritten\n")
	ok, err := LoadEnvFile(p)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "loaded", os.Getenv("RELAY_TEST_FROM_DOTENV"))
	assert.Equal(t, "kept", os.Getenv("RELAY_TEST_PRESET"))

	ok, err = LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_DecryptsAPIKey(t *testing.T) {
	clearEnv(t)
	key := "0123456789abcdef0123456789abcdef"
	enc, err := secret.Encrypt("AIza-from-file", []byte(key))
	require.NoError(t, err)

	p := writeFile(t, "relay.yaml", "upstream:\n  api_key: \""+enc+"\"\n")
	_, err = Load(p)
	assert.ErrorContains(t, err, "upstream.api_key")

	t.Setenv(secret.MasterKeyEnv, key)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "AIza-from-file", cfg.Upstream.APIKey)
}
