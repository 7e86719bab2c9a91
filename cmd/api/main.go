package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/salon-ai-platform/internal/api/router"
	"github.com/wolfman30/salon-ai-platform/internal/app/bootstrap"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
	"github.com/wolfman30/salon-ai-platform/internal/booking"
	appconfig "github.com/wolfman30/salon-ai-platform/internal/config"
	"github.com/wolfman30/salon-ai-platform/internal/events"
	"github.com/wolfman30/salon-ai-platform/internal/expiry"
	"github.com/wolfman30/salon-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/salon-ai-platform/internal/http/middleware"
	"github.com/wolfman30/salon-ai-platform/internal/mirror"
	"github.com/wolfman30/salon-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/salon-ai-platform/internal/observability/tracing"
	"github.com/wolfman30/salon-ai-platform/internal/storage/postgres"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

func main() {
	// Local development reads .env; deployed environments set real variables.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting salon booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "salon-booking-api",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  1,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	pool, err := bootstrap.ConnectPostgres(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	settings := bootstrap.BuildSettingsProvider(redisClient, cfg, logger)

	metricsHandler, bookingMetrics := setupMetrics()

	repo := postgres.NewAppointmentRepository(pool, postgres.NewTxRunner(pool, logger))
	catalog := postgres.NewCatalogRepository(pool, settings)
	outbox := events.NewOutboxStore(pool)

	calendarMirror, err := bootstrap.BuildCalendarMirror(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build calendar mirror", "error", err)
		os.Exit(1)
	}
	syncer := mirror.NewSyncer(calendarMirror, repo, mirror.Config{
		Workers:     cfg.MirrorWorkers,
		QueueSize:   cfg.MirrorQueueSize,
		MaxAttempts: cfg.MirrorMaxAttempts,
		BaseDelay:   cfg.MirrorBaseDelay,
		CallTimeout: cfg.MirrorCallTimeout,
		InlineWait:  cfg.MirrorInlineWait,
		TimeZone:    cfg.SalonTimezone,
	}, logger.Component("mirror")).
		WithMetrics(bookingMetrics).
		WithSettings(settings)

	notifier, err := bootstrap.BuildNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build notifier", "error", err)
		os.Exit(1)
	}
	defer func() { _ = notifier.Close() }()

	bookingService := booking.NewService(repo, catalog, settings, outbox, syncer, logger.Component("booking")).
		WithMetrics(bookingMetrics).
		WithTimeout(cfg.BookingTimeout)
	engine := availability.NewEngine(repo, repo, catalog, settings, cfg.SlotInterval, logger.Component("availability"))

	sweeper := expiry.NewSweeper(repo, outbox, syncer, logger.Component("expiry")).
		WithInterval(cfg.SweepInterval).
		WithBatchSize(cfg.SweepBatchSize).
		WithMetrics(bookingMetrics)
	reconciler := mirror.NewReconciler(repo, syncer, logger.Component("mirror")).
		WithInterval(cfg.MirrorReconcileInterval)
	deliverer := events.NewDeliverer(outbox, notifier, logger.Component("outbox")).
		WithInterval(cfg.OutboxPollInterval).
		WithMetrics(bookingMetrics)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	syncer.Start(ctx)
	supervisor := bootstrap.NewSupervisor(logger,
		bootstrap.Loop{Name: "expiry-sweeper", Run: sweeper.Run},
		bootstrap.Loop{Name: "mirror-reconciler", Run: reconciler.Run},
		bootstrap.Loop{Name: "outbox-deliverer", Run: deliverer.Start},
		bootstrap.Loop{Name: "ratelimit-evict", Run: func(ctx context.Context) { evictIdleBuckets(ctx, limiter) }},
	)
	supervisor.Start(ctx)

	checks := []handlers.HealthCheck{{Name: "postgres", Check: pool.Ping}}
	if redisClient != nil {
		checks = append(checks, handlers.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	r := router.New(&router.Config{
		Logger: logger,
		Booking: handlers.NewBookingHandler(handlers.BookingHandlerConfig{
			Service:      bookingService,
			Availability: engine,
			Logger:       logger.Component("http"),
		}),
		Health:           handlers.NewHealthHandler(logger, checks...),
		MetricsHandler:   metricsHandler,
		ServiceJWTSecret: cfg.ServiceJWTSecret,
		RateLimiter:      limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(r, "salon-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := supervisor.Stop(10 * time.Second); err != nil {
		logger.Warn("background loops did not stop cleanly", "error", err)
	}
	if err := syncer.Stop(shutdownCtx); err != nil {
		logger.Warn("mirror queue not drained", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics builds a dedicated registry with runtime collectors and booking metrics.
func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

// evictIdleBuckets drops rate-limit buckets of callers idle for ten minutes.
func evictIdleBuckets(ctx context.Context, limiter *httpmiddleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Evict(now.Add(-10 * time.Minute))
		}
	}
}
