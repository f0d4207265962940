// Package main is the entry point for the collection-proxy binary.
// It serves one Postman collection on GET /docs/collection.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/collection-proxy/pkg/config"
	"github.com/polisai/collection-proxy/pkg/logging"
	"github.com/polisai/collection-proxy/pkg/postman"
	"github.com/polisai/collection-proxy/pkg/proxy"
	"github.com/polisai/collection-proxy/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// CLIConfig holds the parsed CLI configuration. Only flags the user set
// override the loaded configuration.
type CLIConfig struct {
	Config       string
	Watch        bool
	Port         *int
	LogLevel     *string
	Pretty       *bool
	OTelEndpoint *string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "collection-proxy",
		Short: "Serve a Postman collection over HTTP",
		Long: `Proxies GET /docs/collection to the Postman API, injecting the API key
from POSTMAN_API_KEY and returning the collection object.

Example:
  POSTMAN_API_KEY=pmak-... collection-proxy --port 5000 --config proxy.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runProxy,
	}

	rootCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to listen on")
	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Human-readable console logs")
	rootCmd.Flags().String("otel-endpoint", "", "OTLP gRPC endpoint for traces")
	rootCmd.Flags().Bool("watch", true, "Reload the config file when it changes")

	return rootCmd
}

// parseCLIConfig reads the flags, keeping only those explicitly set as overrides.
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	flags := cmd.Flags()
	cli := &CLIConfig{}

	var err error
	if cli.Config, err = flags.GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if cli.Watch, err = flags.GetBool("watch"); err != nil {
		return nil, fmt.Errorf("failed to get watch flag: %w", err)
	}

	if flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return nil, fmt.Errorf("failed to get port flag: %w", err)
		}
		cli.Port = &port
	}
	if flags.Changed("log-level") {
		level, err := flags.GetString("log-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get log-level flag: %w", err)
		}
		cli.LogLevel = &level
	}
	if flags.Changed("pretty") {
		pretty, err := flags.GetBool("pretty")
		if err != nil {
			return nil, fmt.Errorf("failed to get pretty flag: %w", err)
		}
		cli.Pretty = &pretty
	}
	if flags.Changed("otel-endpoint") {
		endpoint, err := flags.GetString("otel-endpoint")
		if err != nil {
			return nil, fmt.Errorf("failed to get otel-endpoint flag: %w", err)
		}
		cli.OTelEndpoint = &endpoint
	}

	return cli, nil
}

// buildOverrides turns set flags into overrides applied after every reload,
// so flags keep precedence over file and environment.
func buildOverrides(cli *CLIConfig) []config.Override {
	var overrides []config.Override
	if cli.Port != nil {
		port := *cli.Port
		overrides = append(overrides, func(c *config.Config) { c.Server.Port = port })
	}
	if cli.LogLevel != nil {
		level := *cli.LogLevel
		overrides = append(overrides, func(c *config.Config) { c.Logging.Level = level })
	}
	if cli.Pretty != nil {
		pretty := *cli.Pretty
		overrides = append(overrides, func(c *config.Config) { c.Logging.Pretty = pretty })
	}
	if cli.OTelEndpoint != nil {
		endpoint := *cli.OTelEndpoint
		overrides = append(overrides, func(c *config.Config) { c.Telemetry.OTLPEndpoint = endpoint })
	}
	return overrides
}

func newLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	return newLoggerTo(cfg, nil, level)
}

// newLoggerTo builds the process logger writing to out (stdout when nil).
func newLoggerTo(cfg *config.Config, out io.Writer, level *slog.LevelVar) *slog.Logger {
	var secrets []string
	if cfg.Logging.Redact && cfg.Postman.APIKey != "" {
		secrets = append(secrets, cfg.Postman.APIKey)
	}
	return logging.NewLogger(logging.Config{
		Level:    cfg.Logging.Level,
		Pretty:   cfg.Logging.Pretty,
		Secrets:  secrets,
		Output:   out,
		LevelVar: level,
	})
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		Endpoint:        cfg.Telemetry.OTLPEndpoint,
		Environment:     cfg.Telemetry.Environment,
		Insecure:        cfg.Telemetry.Insecure,
		Headers:         cfg.Telemetry.Headers,
		ResourceTags:    cfg.Telemetry.ResourceTags,
		CollectionUID:   cfg.Postman.CollectionUID,
		UpstreamBaseURL: cfg.Postman.BaseURL,
	}
}

// restartOnlyChanges lists settings in next that differ from the snapshot the
// process started with but are only read at startup.
func restartOnlyChanges(started, next *config.Config) []string {
	var changed []string
	if next.Server != started.Server {
		changed = append(changed, "server")
	}
	if next.Metrics != started.Metrics {
		changed = append(changed, "metrics")
	}
	if !reflect.DeepEqual(next.Telemetry, started.Telemetry) {
		changed = append(changed, "telemetry")
	}
	if next.Logging.Pretty != started.Logging.Pretty || next.Logging.Redact != started.Logging.Redact {
		changed = append(changed, "logging.pretty/redact")
	}
	return changed
}

// newReloadHandler applies the parts of a reloaded snapshot that can change
// at runtime (log level) and warns about the rest. Upstream settings need no
// handling: the collection handler reads the store on every request.
func newReloadHandler(logger *slog.Logger, metrics *proxy.Metrics, level *slog.LevelVar, started *config.Config) func(*config.Config) {
	return func(next *config.Config) {
		metrics.RecordConfigReload("success")

		if newLevel := logging.ParseLevel(next.Logging.Level); newLevel != level.Level() {
			level.Set(newLevel)
			logger.Info("Log level changed", "level", next.Logging.Level)
		}

		if changed := restartOnlyChanges(started, next); len(changed) > 0 {
			logger.Warn("Settings take effect after restart", "settings", changed)
		}
	}
}

func runProxy(cmd *cobra.Command, _ []string) error {
	cliConfig, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	store, err := config.NewStore(cliConfig.Config, slog.Default(), buildOverrides(cliConfig)...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer store.Close()

	cfg := store.Current()
	level := new(slog.LevelVar)
	logger := newLogger(cfg, level)
	slog.SetDefault(logger)

	if cfg.Postman.APIKey == "" {
		logger.Warn("POSTMAN_API_KEY is not set; collection requests will fail until it is configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	var metrics *proxy.Metrics
	if cfg.Metrics.Enabled {
		metrics = proxy.NewMetrics(cfg.Metrics.Path)
	}

	server := proxy.NewServer(proxy.ServerConfig{
		Source:  store,
		Fetcher: postman.NewClient(nil, logger),
		Logger:  logger,
		Metrics: metrics,
	})

	onReload := newReloadHandler(logger, metrics, level, cfg)

	if cliConfig.Watch && store.Path() != "" {
		if err := store.Watch(onReload); err != nil {
			logger.Warn("Config file watch disabled", "error", err)
		}
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for {
			select {
			case <-sighup:
				logger.Info("Received SIGHUP, reloading configuration")
				next, err := store.Reload()
				if err != nil {
					metrics.RecordConfigReload("failure")
					logger.Error("Config reload failed, keeping previous configuration", "error", err)
					continue
				}
				onReload(next)
			case <-ctx.Done():
				return
			}
		}
	}()

	ln, err := server.Listen()
	if err != nil {
		return err
	}

	if err := server.Serve(ctx, ln); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}

	logger.Info("Received shutdown signal")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	logger.Info("Collection proxy stopped")
	return nil
}
