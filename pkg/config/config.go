// Package config provides configuration structures and loading logic for the collection proxy.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/collection-proxy/pkg/domain"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultPort          = 5000
	DefaultBaseURL       = "https://api.getpostman.com"
	DefaultCollectionUID = "YOUR_COLLECTION_UID_HERE"
	DefaultMetricsPath   = "/metrics"
	DefaultServiceName   = "collection-proxy"

	// APIKeyEnv names the variable carrying the Postman credential.
	APIKeyEnv = "POSTMAN_API_KEY"

	CollectionRoute = "/docs/collection"
	HealthRoute     = "/healthz"
)

// Config holds the global configuration for the proxy. A *Config published by
// a Source is a snapshot and must not be mutated.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postman   PostmanConfig   `yaml:"postman"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the inbound HTTP server.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// PostmanConfig describes the upstream collection API.
type PostmanConfig struct {
	APIKey        string        `yaml:"api_key"`
	CollectionUID string        `yaml:"collection_uid"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"` // 0 disables the upstream deadline
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers"` // sent with every OTLP export
	ResourceTags map[string]string `yaml:"resource_tags"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	Redact bool   `yaml:"redact"`
}

// Default returns a configuration populated with built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Postman: PostmanConfig{
			CollectionUID: DefaultCollectionUID,
			BaseURL:       DefaultBaseURL,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Redact: true,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path skips the file and uses defaults plus environment.
//
// The API key is not required here. A missing credential is reported per
// request and the process still starts.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv(APIKeyEnv); val != "" {
		cfg.Postman.APIKey = val
	}
	if val := os.Getenv("POSTMAN_COLLECTION_UID"); val != "" {
		cfg.Postman.CollectionUID = val
	}
	if val := os.Getenv("POSTMAN_API_BASE_URL"); val != "" {
		cfg.Postman.BaseURL = val
	}
	if val := os.Getenv("POSTMAN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("POSTMAN_TIMEOUT: %w", err)
		}
		cfg.Postman.Timeout = d
	}

	if val := os.Getenv("PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	if val := os.Getenv("PROXY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("PROXY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("PROXY_OTLP_HEADERS"); val != "" {
		headers, err := parseHeaderList(val)
		if err != nil {
			return fmt.Errorf("PROXY_OTLP_HEADERS: %w", err)
		}
		if cfg.Telemetry.Headers == nil {
			cfg.Telemetry.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Telemetry.Headers[k] = v
		}
	}

	if val := os.Getenv("PROXY_METRICS_ENABLED"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("PROXY_METRICS_ENABLED: %w", err)
		}
		cfg.Metrics.Enabled = enabled
	}

	if val := os.Getenv("PROXY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("PROXY_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	return nil
}

// Validate performs validation of the entire configuration, normalising
// values where a sensible default exists.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Postman.Validate(); err != nil {
		return fmt.Errorf("postman configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", domain.ErrConfigInvalid, c.Port)
	}
	for name, d := range map[string]time.Duration{
		"read_header_timeout": c.ReadHeaderTimeout,
		"read_timeout":        c.ReadTimeout,
		"write_timeout":       c.WriteTimeout,
		"idle_timeout":        c.IdleTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrConfigInvalid, name)
		}
	}
	return nil
}

// ListenAddr returns the address the server binds to.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate performs validation of the upstream settings. The API key is
// not checked; see Load.
func (c *PostmanConfig) Validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base_url: %v", domain.ErrConfigInvalid, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url %q must be an absolute http(s) URL", domain.ErrConfigInvalid, c.BaseURL)
	}

	c.CollectionUID = strings.TrimSpace(c.CollectionUID)
	if c.CollectionUID == "" {
		return fmt.Errorf("%w: collection_uid is required", domain.ErrConfigInvalid)
	}
	if strings.ContainsAny(c.CollectionUID, "/?#") {
		return fmt.Errorf("%w: collection_uid %q contains URL delimiters", domain.ErrConfigInvalid, c.CollectionUID)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", domain.ErrConfigInvalid)
	}
	return nil
}

// parseHeaderList reads "k1=v1,k2=v2", the OTEL_EXPORTER_OTLP_HEADERS format.
func parseHeaderList(raw string) (map[string]string, error) {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: header %q is not key=value", domain.ErrConfigInvalid, pair)
		}
		headers[k] = strings.TrimSpace(v)
	}
	return headers, nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = DefaultServiceName
	}
	for k := range c.Headers {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty OTLP header name", domain.ErrConfigInvalid)
		}
	}
	for k := range c.ResourceTags {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty resource tag name", domain.ErrConfigInvalid)
		}
	}
	return nil
}

// Validate performs validation of metrics configuration
func (c *MetricsConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		c.Path = DefaultMetricsPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: metrics path %q must start with /", domain.ErrConfigInvalid, c.Path)
	}
	switch c.Path {
	case CollectionRoute, HealthRoute:
		return fmt.Errorf("%w: metrics path %q collides with a built-in route", domain.ErrConfigInvalid, c.Path)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
