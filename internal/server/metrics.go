package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/oxd/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default address for the metrics server.
	DefaultMetricsAddr = ":9090"

	DefaultMetricsReadTimeout  = 10 * time.Second
	DefaultMetricsWriteTimeout = 10 * time.Second
	DefaultMetricsIdleTimeout  = 60 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown of both servers.
	DefaultShutdownTimeout = 30 * time.Second
)

// MetricsServerConfig holds configuration for the metrics server.
type MetricsServerConfig struct {
	// Addr is the address to bind to (e.g. ":9090").
	Addr string

	// InstrumentationProvider must be enabled. /metrics is served when it
	// uses the Prometheus exporter.
	InstrumentationProvider *instrumentation.Provider

	// Health serves the probe endpoints. A checker without shutdown probe
	// is used when nil.
	Health *HealthChecker

	Logger *slog.Logger
}

// MetricsServer serves Prometheus metrics and health probes on a port
// separate from the command listener.
type MetricsServer struct {
	addr    string
	metrics http.Handler
	health  *HealthChecker
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewMetricsServer creates a metrics server.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}
	if config.InstrumentationProvider == nil {
		return nil, fmt.Errorf("instrumentation provider is required for metrics server")
	}
	if !config.InstrumentationProvider.Enabled() {
		return nil, fmt.Errorf("instrumentation provider is not enabled")
	}
	if config.Health == nil {
		config.Health = NewHealthChecker(nil)
		config.Health.SetReady(true)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &MetricsServer{
		addr:    config.Addr,
		metrics: config.InstrumentationProvider.Handler(),
		health:  config.Health,
		logger:  config.Logger,
	}, nil
}

// Start serves until Shutdown is called. It blocks.
func (s *MetricsServer) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal binds the listener, closes ready (when non-nil) once
// the port is bound and then serves until Shutdown is called.
func (s *MetricsServer) StartWithReadySignal(ready chan<- struct{}) error {
	mux := http.NewServeMux()
	// Only the Prometheus exporter is scraped; OTLP and stdout push.
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	s.health.RegisterHealthEndpoints(mux)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics server to %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: DefaultMetricsReadTimeout,
		WriteTimeout:      DefaultMetricsWriteTimeout,
		IdleTimeout:       DefaultMetricsIdleTimeout,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("starting metrics server", "addr", ln.Addr().String())
	if ready != nil {
		close(ready)
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return srv.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
