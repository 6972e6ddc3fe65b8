package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/oxd/internal/config"
	"github.com/teemow/oxd/internal/discovery"
	"github.com/teemow/oxd/internal/housekeeping"
	"github.com/teemow/oxd/internal/httpclient"
	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
	"github.com/teemow/oxd/internal/opclient"
	"github.com/teemow/oxd/internal/operation"
	"github.com/teemow/oxd/internal/server"
	"github.com/teemow/oxd/internal/state"
	"github.com/teemow/oxd/internal/storage"
	"github.com/teemow/oxd/internal/validation"
)

// metricsStartupTimeout bounds waiting for the metrics listener.
const metricsStartupTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the command server",
		Long: `Start the oxd command server.

The server listens on the configured port (loopback only unless
localhost_only is false) and answers register_site, setup_client,
get_authorization_url, get_authorization_code, introspect_access_token and
get_rp commands. Prometheus metrics and health probes are served on the
metrics port.

Every flag can also be set as an OXD_* environment variable, for example
OXD_PORT=8099 or OXD_STORAGE=redis.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.Int("port", config.DefaultPort, "Port of the command server")
	flags.Int("metrics-port", config.DefaultMetricsPort, "Port of the metrics and health server")
	flags.Bool("metrics-enabled", true, "Serve Prometheus metrics and health probes")
	for _, name := range []string{"port", "metrics-port", "metrics-enabled"} {
		if err := settings.BindPFlag(name, flags.Lookup(name)); err != nil {
			slog.Error("failed to bind flag", "flag", name, "error", err)
		}
	}
	return cmd
}

// daemon holds the long-lived components of a running server.
type daemon struct {
	services  *operation.Services
	store     storage.Store
	scheduler *housekeeping.Scheduler
}

// newDaemon wires the services operations run with. The caller owns
// closing the returned store.
func newDaemon(ctx context.Context, conf config.Configuration, metrics *instrumentation.Metrics, logger *slog.Logger) (*daemon, error) {
	httpClient, err := httpclient.New(httpclient.OptionsFromConfig(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	store, err := storage.New(ctx, conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	disc := discovery.NewHTTPClient(httpClient, conf.OpCacheExpiration(),
		discovery.WithMetrics(metrics),
		discovery.WithLogger(logger),
	)
	op := opclient.New(httpClient, metrics, logger)
	states := state.NewStore(conf.StateExpiration(), conf.NonceExpiration(), state.WithLogger(logger))

	scheduler := housekeeping.NewScheduler(conf.HousekeepingInterval(), logging.NewSlogAdapter(logger), metrics)
	scheduler.Register(instrumentation.StoreState, housekeeping.SweeperFunc(states.SweepStates))
	scheduler.Register(instrumentation.StoreNonce, housekeeping.SweeperFunc(states.SweepNonces))
	scheduler.Register(instrumentation.StoreDiscovery, disc)

	return &daemon{
		services: &operation.Services{
			Config:     &conf,
			Store:      store,
			Discovery:  disc,
			Validation: validation.NewService(store, disc, op, metrics, logger),
			OP:         op,
			State:      states,
			Metrics:    metrics,
			Logger:     logger,
		},
		store:     store,
		scheduler: scheduler,
	}, nil
}

func runServe(ctx context.Context) error {
	logger := newLogger(os.Stderr)
	slog.SetDefault(logger)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conf, err := loadConfiguration(settings)
	if err != nil {
		return err
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("error during instrumentation shutdown", logging.Err(err))
		}
	}()

	d, err := newDaemon(ctx, conf, provider.Metrics(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.store.Close(); err != nil {
			logger.Warn("error closing storage", logging.Err(err))
		}
	}()

	sites, err := d.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored sites: %w", err)
	}

	var audit *instrumentation.AuditLogger
	if instrConfig.AuditLogging.Enabled {
		audit = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}
	srvCfg := server.ConfigFrom(&conf)
	srv := server.NewServer(srvCfg, server.NewDispatcher(d.services, audit), provider.Metrics(), logger)

	health := server.NewHealthChecker(srv.IsShuttingDown)
	health.SetConnectionCounter(srv.ActiveConnections)
	health.AddCheck("storage", func(ctx context.Context) error {
		return storage.Check(ctx, d.store)
	})

	ln, err := net.Listen("tcp", srvCfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srvCfg.Addr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if settings.GetBool("metrics-enabled") && provider.Enabled() {
		metricsServer, err := startMetricsServer(conf, provider, health, logger)
		if err != nil {
			_ = ln.Close()
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := srv.Serve(gctx, ln); !errors.Is(err, server.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return d.scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		health.SetReady(false)
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	health.SetReady(true)
	logger.Info("oxd started",
		"version", version,
		"addr", ln.Addr().String(),
		"storage", conf.Storage,
		"sites", sites,
		"protect_commands", conf.ProtectCommands())

	return g.Wait()
}

func startMetricsServer(conf config.Configuration, provider *instrumentation.Provider, health *server.HealthChecker, logger *slog.Logger) (*server.MetricsServer, error) {
	host := ""
	if conf.LocalhostOnly {
		host = "127.0.0.1"
	}
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    net.JoinHostPort(host, strconv.Itoa(conf.MetricsPort)),
		InstrumentationProvider: provider,
		Health:                  health,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	// Use ready channel to confirm metrics server started successfully
	metricsReady := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(metricsReady); err != nil {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-metricsReady:
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(metricsStartupTimeout):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}
