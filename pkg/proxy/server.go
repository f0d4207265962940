package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/collection-proxy/pkg/config"
)

// ServerConfig wires a Server. Routes and listener timeouts come from the
// configuration snapshot current at construction; the collection handler
// reads Source again on every request.
type ServerConfig struct {
	Source  config.Source
	Fetcher Fetcher
	Logger  *slog.Logger
	Metrics *Metrics
}

// Server is the HTTP front of the collection proxy.
type Server struct {
	source     config.Source
	logger     *slog.Logger
	metrics    *Metrics
	handler    http.Handler
	httpServer *http.Server

	stopOnce sync.Once
}

type healthStatus struct {
	Status string `json:"status"`
}

// NewServer builds the router and middleware chain.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Source == nil {
		panic("proxy: ServerConfig.Source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		source:  cfg.Source,
		logger:  logger,
		metrics: cfg.Metrics,
	}

	snapshot := cfg.Source.Current()

	collection := NewCollectionHandler(CollectionHandlerConfig{
		Source:  cfg.Source,
		Fetcher: cfg.Fetcher,
		Logger:  logger,
		Metrics: cfg.Metrics,
	})

	mux := http.NewServeMux()
	mux.Handle("GET "+config.CollectionRoute, collection)
	mux.Handle("GET "+config.CollectionRoute+"/{$}", collection)
	mux.HandleFunc("GET "+config.HealthRoute, s.handleHealth)
	if cfg.Metrics != nil && snapshot.Metrics.Enabled {
		mux.Handle("GET "+snapshot.Metrics.Path, cfg.Metrics.Handler())
	}

	var h http.Handler = mux
	h = RecoverMiddleware(logger, h)
	h = cfg.Metrics.MetricsMiddleware(h)
	h = AccessLogMiddleware(logger, h)
	h = RequestIDMiddleware(h)
	s.handler = otelhttp.NewHandler(h, snapshot.Telemetry.ServiceName)

	s.httpServer = &http.Server{
		Addr:              snapshot.Server.ListenAddr(),
		Handler:           s.handler,
		ReadHeaderTimeout: snapshot.Server.ReadHeaderTimeout,
		ReadTimeout:       snapshot.Server.ReadTimeout,
		WriteTimeout:      snapshot.Server.WriteTimeout,
		IdleTimeout:       snapshot.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the configured address.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is cancelled or the listener
// fails. Cancellation is not a shutdown; callers drain with Stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	s.logger.Info("Server running", "url", base)
	s.logger.Info("Test endpoint", "url", base+config.CollectionRoute)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping collection proxy")
		if stopErr := s.httpServer.Shutdown(ctx); stopErr != nil {
			s.logger.Error("Failed to shut down HTTP server", "error", stopErr)
			err = stopErr
		}
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
}
