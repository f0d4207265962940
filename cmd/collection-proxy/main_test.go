package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/collection-proxy/pkg/config"
	"github.com/polisai/collection-proxy/pkg/proxy"
	"github.com/polisai/collection-proxy/pkg/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseCLIConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		validate func(t *testing.T, cli *CLIConfig)
	}{
		{
			name: "defaults set no overrides",
			args: []string{},
			validate: func(t *testing.T, cli *CLIConfig) {
				assert.Empty(t, cli.Config)
				assert.True(t, cli.Watch)
				assert.Nil(t, cli.Port)
				assert.Nil(t, cli.LogLevel)
				assert.Nil(t, cli.Pretty)
				assert.Nil(t, cli.OTelEndpoint)
			},
		},
		{
			name: "short flags",
			args: []string{"-p", "8080", "-c", "proxy.yaml", "-l", "debug"},
			validate: func(t *testing.T, cli *CLIConfig) {
				assert.Equal(t, "proxy.yaml", cli.Config)
				require.NotNil(t, cli.Port)
				assert.Equal(t, 8080, *cli.Port)
				require.NotNil(t, cli.LogLevel)
				assert.Equal(t, "debug", *cli.LogLevel)
			},
		},
		{
			name: "long flags",
			args: []string{"--pretty", "--otel-endpoint", "localhost:4317", "--watch=false"},
			validate: func(t *testing.T, cli *CLIConfig) {
				assert.False(t, cli.Watch)
				require.NotNil(t, cli.Pretty)
				assert.True(t, *cli.Pretty)
				require.NotNil(t, cli.OTelEndpoint)
				assert.Equal(t, "localhost:4317", *cli.OTelEndpoint)
			},
		},
		{
			name: "explicit default still overrides",
			args: []string{"--port", "5000"},
			validate: func(t *testing.T, cli *CLIConfig) {
				require.NotNil(t, cli.Port)
				assert.Equal(t, config.DefaultPort, *cli.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			cli, err := parseCLIConfig(cmd)
			require.NoError(t, err)
			tt.validate(t, cli)
		})
	}
}

func TestRootCmd_RejectsPositionalArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"unexpected"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func TestRootCmd_InvalidPort(t *testing.T) {
	cmd := newRootCmd()
	assert.Error(t, cmd.ParseFlags([]string{"--port", "not-a-number"}))
}

func TestBuildOverrides(t *testing.T) {
	port := 9090
	level := "warn"
	pretty := true
	endpoint := "collector:4317"

	overrides := buildOverrides(&CLIConfig{
		Port:         &port,
		LogLevel:     &level,
		Pretty:       &pretty,
		OTelEndpoint: &endpoint,
	})
	require.Len(t, overrides, 4)

	cfg := config.Default()
	for _, o := range overrides {
		o(&cfg)
	}

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)

	assert.Empty(t, buildOverrides(&CLIConfig{}))
}

func TestBuildOverrides_WinOverEnvironment(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("PROXY_LOG_LEVEL", "error")

	port := 7100
	store, err := config.NewStore("", discardLogger(), buildOverrides(&CLIConfig{Port: &port})...)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 7100, store.Current().Server.Port)
	assert.Equal(t, "error", store.Current().Logging.Level)
}

func TestNewLogger_RedactsAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Postman.APIKey = "pmak-secret-value"

	var buf bytes.Buffer
	logger := newLoggerTo(&cfg, &buf, nil)
	logger.Info("calling upstream", "key", "pmak-secret-value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, buf.String(), "pmak-secret-value")
	assert.Equal(t, "[REDACTED]", entry["key"])
}

func TestTelemetryConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Postman.CollectionUID = "uid-9"
	cfg.Postman.BaseURL = "https://postman.internal"
	cfg.Telemetry.OTLPEndpoint = "collector:4317"
	cfg.Telemetry.Insecure = true
	cfg.Telemetry.Environment = "staging"
	cfg.Telemetry.Headers = map[string]string{"authorization": "Bearer t"}
	cfg.Telemetry.ResourceTags = map[string]string{"team": "docs"}

	assert.Equal(t, telemetry.Config{
		ServiceName:     config.DefaultServiceName,
		Endpoint:        "collector:4317",
		Environment:     "staging",
		Insecure:        true,
		Headers:         map[string]string{"authorization": "Bearer t"},
		ResourceTags:    map[string]string{"team": "docs"},
		CollectionUID:   "uid-9",
		UpstreamBaseURL: "https://postman.internal",
	}, telemetryConfig(&cfg))
}

func TestRestartOnlyChanges(t *testing.T) {
	started := config.Default()

	same := config.Default()
	same.Postman.APIKey = "rotated"
	same.Postman.CollectionUID = "other"
	same.Logging.Level = "debug"
	assert.Empty(t, restartOnlyChanges(&started, &same), "upstream settings and level apply live")

	next := config.Default()
	next.Server.Port = 6000
	next.Metrics.Path = "/prom"
	next.Telemetry.ResourceTags = map[string]string{"team": "docs"}
	next.Logging.Pretty = true
	assert.Equal(t, []string{"server", "metrics", "telemetry", "logging.pretty/redact"}, restartOnlyChanges(&started, &next))
}

func TestReloadHandler(t *testing.T) {
	started := config.Default()

	var buf bytes.Buffer
	level := new(slog.LevelVar)
	logger := newLoggerTo(&started, &buf, level)
	require.Equal(t, slog.LevelInfo, level.Level())

	metrics := proxy.NewMetrics("")
	onReload := newReloadHandler(logger, metrics, level, &started)

	next := config.Default()
	next.Logging.Level = "debug"
	next.Logging.Pretty = true
	onReload(&next)

	assert.Equal(t, slog.LevelDebug, level.Level())
	logger.Debug("debug now visible")

	out := buf.String()
	assert.Contains(t, out, "Log level changed")
	assert.Contains(t, out, "Settings take effect after restart")
	assert.Contains(t, out, "logging.pretty/redact")
	assert.Contains(t, out, "debug now visible")

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	var reloads float64
	for _, mf := range families {
		if mf.GetName() == "collection_proxy_config_reloads_total" {
			for _, m := range mf.GetMetric() {
				reloads += m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(1), reloads)
}
