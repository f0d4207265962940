package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/collection-proxy/pkg/domain"
)

// clearEnv unsets every variable Load reads so tests start from defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		APIKeyEnv,
		"POSTMAN_COLLECTION_UID",
		"POSTMAN_API_BASE_URL",
		"POSTMAN_TIMEOUT",
		"PORT",
		"PROXY_OTLP_ENDPOINT",
		"PROXY_OTLP_INSECURE",
		"PROXY_OTLP_HEADERS",
		"PROXY_METRICS_ENABLED",
		"PROXY_LOG_LEVEL",
		"PROXY_LOG_PRETTY",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, ":5000", cfg.Server.ListenAddr())
	assert.Equal(t, DefaultBaseURL, cfg.Postman.BaseURL)
	assert.Equal(t, DefaultCollectionUID, cfg.Postman.CollectionUID)
	assert.Zero(t, cfg.Postman.Timeout)
	assert.Empty(t, cfg.Postman.APIKey)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact)
	assert.Equal(t, DefaultServiceName, cfg.Telemetry.ServiceName)
}

func TestLoad_MissingAPIKeyIsNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Postman.APIKey)
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_COLLECTION_KEY", "pmak-from-file")

	path := writeConfig(t, `
server:
  port: 8081
  write_timeout: 45s
postman:
  api_key: ${TEST_COLLECTION_KEY}
  collection_uid: 12345678-abcd
  base_url: https://mock.example.com/
  timeout: 2s
metrics:
  enabled: false
logging:
  level: DEBUG
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeout, "defaults survive partial files")
	assert.Equal(t, "pmak-from-file", cfg.Postman.APIKey)
	assert.Equal(t, "12345678-abcd", cfg.Postman.CollectionUID)
	assert.Equal(t, "https://mock.example.com", cfg.Postman.BaseURL, "trailing slash trimmed")
	assert.Equal(t, 2*time.Second, cfg.Postman.Timeout)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(APIKeyEnv, "pmak-env")
	t.Setenv("POSTMAN_COLLECTION_UID", "env-uid")
	t.Setenv("POSTMAN_API_BASE_URL", "http://127.0.0.1:9999")
	t.Setenv("POSTMAN_TIMEOUT", "750ms")
	t.Setenv("PORT", "6000")
	t.Setenv("PROXY_OTLP_ENDPOINT", "localhost:4317")
	t.Setenv("PROXY_OTLP_INSECURE", "true")
	t.Setenv("PROXY_METRICS_ENABLED", "false")
	t.Setenv("PROXY_LOG_LEVEL", "warn")

	path := writeConfig(t, `
server:
  port: 8081
postman:
  api_key: from-file
  collection_uid: file-uid
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "pmak-env", cfg.Postman.APIKey)
	assert.Equal(t, "env-uid", cfg.Postman.CollectionUID)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Postman.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Postman.Timeout)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		invalid bool
	}{
		{name: "malformed yaml", file: "server: [ invalid"},
		{name: "bad port env", env: map[string]string{"PORT": "abc"}},
		{name: "bad timeout env", env: map[string]string{"POSTMAN_TIMEOUT": "soon"}},
		{name: "bad metrics env", env: map[string]string{"PROXY_METRICS_ENABLED": "maybe"}},
		{name: "port out of range", file: "server: { port: 70000 }", invalid: true},
		{name: "relative base url", file: "postman: { base_url: api.getpostman.com }", invalid: true},
		{name: "ftp base url", file: "postman: { base_url: ftp://api.getpostman.com }", invalid: true},
		{name: "empty collection uid", file: "postman: { collection_uid: '  ' }", invalid: true},
		{name: "collection uid with slash", file: "postman: { collection_uid: a/../b }", invalid: true},
		{name: "negative timeout", file: "postman: { timeout: -1s }", invalid: true},
		{name: "metrics path without slash", file: "metrics: { path: metrics }", invalid: true},
		{name: "metrics path collides", file: "metrics: { path: /docs/collection }", invalid: true},
		{name: "bad otlp headers env", env: map[string]string{"PROXY_OTLP_HEADERS": "no-equals-sign"}, invalid: true},
		{name: "empty resource tag name", file: "telemetry: { resource_tags: { '': x } }", invalid: true},
		{name: "unknown log level", file: "logging: { level: verbose }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}

			_, err := Load(path)
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, domain.ErrConfigInvalid)
			}
		})
	}
}

func TestLoad_TelemetryHeadersAndTags(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROXY_OTLP_HEADERS", "authorization=Bearer abc, x-tenant = docs ,")

	path := writeConfig(t, `
telemetry:
  otlp_endpoint: collector:4317
  headers:
    x-tenant: from-file
    x-region: eu
  resource_tags:
    team: docs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-tenant":      "docs",
		"x-region":      "eu",
	}, cfg.Telemetry.Headers, "environment headers merge over file headers")
	assert.Equal(t, map[string]string{"team": "docs"}, cfg.Telemetry.ResourceTags)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStatic(t *testing.T) {
	cfg := Default()
	cfg.Postman.APIKey = "static-key"

	src := Static(cfg)
	cfg.Postman.APIKey = "mutated after publish"

	assert.Equal(t, "static-key", src.Current().Postman.APIKey)
	assert.Same(t, src.Current(), src.Current())
}
