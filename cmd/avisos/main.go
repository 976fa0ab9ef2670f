// Package main is the entry point of the notification engine.
//
// It loads the configuration, opens the database pool, applies migrations,
// builds the delivery channel, the dispatch coordinator and the scheduler,
// and serves the control surface over HTTP until SIGINT or SIGTERM.
//
// A delivery channel that cannot be built (missing relay, missing API key)
// does not abort startup: the control surface stays up and refuses to start
// the scheduler with config_mail_unavailable.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"avisos/internal/api/handlers"
	"avisos/internal/config"
	"avisos/internal/core"
	"avisos/internal/db"
	nfcore "avisos/internal/notifications/core"
	"avisos/internal/notifications/email"
	"avisos/internal/rules"
	"avisos/internal/scheduler"
	"avisos/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run owns the process lifecycle so main can exit with a status code.
func run() error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("avisos starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		applied, err := db.NewMigrator(pool, logger).Up(ctx)
		if err != nil {
			pool.Close()
			return fmt.Errorf("applying migrations: %w", err)
		}
		logger.Info("migrations applied", "count", applied)
	}

	a, err := build(ctx, cfg, loc, pool, logger)
	if err != nil {
		pool.Close()
		return err
	}

	return serve(ctx, cfg, a, logger)
}

// app is the wired object graph.
type app struct {
	server    *core.Server
	scheduler *scheduler.Scheduler
}

// build wires every component. Resources that need closing are registered on
// the server's shutdown hooks.
func build(ctx context.Context, cfg *config.Config, loc *time.Location, pool dbPool, logger *slog.Logger) (*app, error) {
	appLogger := newSlogAdapter(logger)
	clock := types.RealClock{}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	renderer, err := email.NewRenderer(cfg.Mail.FromName)
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	// A channel error is reported through the scheduler and the test
	// endpoint, never fatal.
	var (
		sender      nfcore.Sender
		unavailable error
	)
	channel, err := buildChannel(cfg, logger, appLogger)
	if err != nil {
		unavailable = err
		logger.Warn("mail delivery unavailable, scheduler will refuse to start", "error", err)
	} else {
		sender = channel
		logger.Info("mail delivery configured", "provider", channel.ProviderName())
	}

	ledger := buildLedger(cfg, pool, clock)

	metrics, err := buildNotificationMetrics(ctx, cfg, registry, appLogger)
	if err != nil {
		return nil, err
	}

	lock, closeLock, err := buildRunLock(ctx, cfg, pool)
	if err != nil {
		return nil, err
	}

	coordinator := nfcore.NewCoordinator(nfcore.CoordinatorConfig{
		Ledger:      ledger,
		Renderer:    renderer,
		Sender:      sender,
		Metrics:     metrics,
		Clock:       clock,
		Location:    loc,
		Concurrency: cfg.Scheduler.Concurrency,
		Retry:       nfcore.RetryPolicy{Cap: cfg.Scheduler.RetryCap},
		Logger:      appLogger,
	})

	jobs, err := scheduler.JobsFromConfig(cfg.Jobs)
	if err != nil {
		return nil, fmt.Errorf("building job registry: %w", err)
	}

	records := db.NewRecordRepository(pool)
	evaluators := rules.All(records, rules.Settings{
		RentDueLeadDays:        cfg.Scheduler.RentDueLeadDays,
		ContractExpiryLeadDays: cfg.Scheduler.ContractExpiryLeadDays,
		ReadjustmentLeadDays:   cfg.Scheduler.ReadjustmentLeadDays,
		WelcomeLookback:        cfg.Scheduler.WelcomeLookback,
		OperationsMailbox:      types.Recipient{Name: cfg.Mail.FromName, Address: cfg.Mail.OperationsMailbox},
	})

	sched, err := scheduler.New(scheduler.Config{
		Jobs:        jobs,
		Evaluators:  evaluators,
		Dispatcher:  coordinator,
		Unavailable: unavailable,
		Lock:        lock,
		LockTTL:     cfg.Lock.TTL,
		History:     db.NewJobHistoryRepository(pool),
		Attention:   ledger,
		Clock:       clock,
		Location:    loc,
		NewTimer:    scheduler.NewRealTimer,
		Logger:      logger.With("component", "scheduler"),
	})
	if err != nil {
		return nil, fmt.Errorf("building scheduler: %w", err)
	}
	if err := sched.Restore(ctx); err != nil {
		logger.Warn("could not restore job history", "error", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	if cfg.Security.AdminAPIKey.IsSet() {
		srv.Authenticator = core.NewAdminKeyAuthenticator(cfg.Security.AdminAPIKey)
	}
	if cfg.Observability.MetricsBackend != metricsNone {
		srv.Metrics = core.NewPrometheusHTTPMetrics(registry)
		srv.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}
	srv.HealthProbes = healthProbes(pool, ledger, unavailable)

	handler := handlers.NewNotificationHandler(handlers.NotificationHandlerConfig{
		Scheduler:        sched,
		Renderer:         renderer,
		Sender:           sender,
		Unavailable:      unavailable,
		Validator:        srv.Validator,
		Today:            coordinator.Today,
		ManualRunTimeout: cfg.Scheduler.ManualRunTimeout,
		Logger:           logger.With("component", "api"),
	})
	srv.RouteRegistrars = append(srv.RouteRegistrars, handler.RegisterRoutes)
	srv.MountRoutes()

	srv.OnShutdown(func() error { pool.Close(); return nil })
	if closeLock != nil {
		srv.OnShutdown(closeLock)
	}

	return &app{server: srv, scheduler: sched}, nil
}

// serve runs the HTTP server until ctx is cancelled, then stops the
// scheduler and the server within the configured grace period.
func serve(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) error {
	if cfg.Scheduler.AutoStart {
		if _, err := a.scheduler.Start(ctx); err != nil {
			logger.Warn("scheduler autostart refused", "error", err)
		}
	}

	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual triggers answer after every job finished.
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if _, err := a.scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler did not drain before the grace period", "error", err)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("resource shutdown error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr == nil {
		logger.Info("avisos stopped cleanly")
	}
	return runErr
}

// newLogger creates the JSON logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
