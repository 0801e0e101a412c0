package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/homecare-visits/cmd/mainconfig"
	"github.com/wolfman30/homecare-visits/internal/api/router"
	"github.com/wolfman30/homecare-visits/internal/app/bootstrap"
	"github.com/wolfman30/homecare-visits/internal/assignment"
	"github.com/wolfman30/homecare-visits/internal/audit"
	appconfig "github.com/wolfman30/homecare-visits/internal/config"
	"github.com/wolfman30/homecare-visits/internal/doctors"
	"github.com/wolfman30/homecare-visits/internal/events"
	httpmiddleware "github.com/wolfman30/homecare-visits/internal/http/middleware"
	"github.com/wolfman30/homecare-visits/internal/notifications"
	"github.com/wolfman30/homecare-visits/internal/visits"
	"github.com/wolfman30/homecare-visits/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting homecare visits API",
		"env", cfg.Env,
		"port", cfg.Port,
		"timezone", cfg.VisitTimezone,
	)
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, visitMetrics := setupVisitMetrics()
	st := buildStores(ctx, cfg, logger)
	defer st.Close()

	hub := notifications.NewHub(visitMetrics, logger)
	var broker notifications.Broker = notifications.NewLocalBroker(hub)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		rb := notifications.NewRedisBroker(redisClient, cfg.LiveChannel, hub, logger)
		broker = rb
		go func() {
			if err := rb.Run(ctx); err != nil {
				logger.Error("live fan-out stopped", "error", err)
			}
		}()
	}

	notifOpts := []notifications.Option{
		notifications.WithBroker(broker),
		notifications.WithMetrics(visitMetrics),
	}
	if alerter := bootstrap.BuildAdminAlerter(ctx, cfg, logger, mainconfig.LoadAWSConfig); alerter != nil {
		notifOpts = append(notifOpts, notifications.WithAlerter(alerter))
	}
	notifSvc := notifications.NewService(st.notifications, st.patients, logger, notifOpts...)

	coord := assignment.NewCoordinator(st.assignment, logger,
		assignment.WithNotifier(notifSvc),
		assignment.WithAuditLog(st.audit),
		assignment.WithMetrics(visitMetrics),
	)
	visitSvc := visits.NewService(st.visits, logger,
		visits.WithNotifier(notifSvc),
		visits.WithCanceller(coord),
		visits.WithAuditLog(st.audit),
		visits.WithMetrics(visitMetrics),
		visits.WithClock(time.Now, cfg.Location()),
	)

	var workers []func(context.Context)
	workers = append(workers, notifications.NewRetentionWorker(notifSvc, cfg.NotificationRetention, cfg.NotificationSweepInterval, logger).Start)

	closeSink := func() error { return nil }
	if st.pool != nil {
		var sink events.DeliveryHandler
		sink, closeSink = bootstrap.BuildLifecycleSink(cfg, logger)
		deliverer := events.NewDeliverer(events.NewOutboxStore(st.pool), sink, logger).
			WithBatchSize(int32(cfg.OutboxBatchSize)).
			WithInterval(cfg.OutboxPollInterval).
			WithMetrics(visitMetrics)
		workers = append(workers, deliverer.Start)
	}
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{}, len(workers))
	for _, run := range workers {
		go func(run func(context.Context)) {
			run(workerCtx)
			workersDone <- struct{}{}
		}(run)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Stop()

	health := map[string]router.HealthCheck{}
	if st.pool != nil {
		health["database"] = st.pool.Ping
	}
	if redisClient != nil {
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := router.New(&router.Config{
		Logger:               logger,
		VisitsHandler:        visits.NewHandler(visitSvc, logger),
		AssignmentHandler:    assignment.NewHandler(coord, logger),
		DoctorsHandler:       doctors.NewHandler(st.doctors, logger),
		NotificationsHandler: notifications.NewHandler(notifSvc, notifications.NewWSHandler(hub, originChecker(cfg.CORSAllowedOrigins), logger), logger),
		AuditHandler:         audit.NewHandler(st.audit, logger),
		MetricsHandler:       metricsHandler,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		JWTSecret:            cfg.JWTSecret,
		RateLimiter:          limiter,
		HealthChecks:         health,
	})

	// No WriteTimeout: websocket connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Pending notification deliveries finish before the stores close.
	visitSvc.Wait()
	coord.Wait()

	stopWorkers()
	for range workers {
		<-workersDone
	}
	if err := closeSink(); err != nil {
		logger.Warn("closing lifecycle sink", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
