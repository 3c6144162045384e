// Package main is the entrypoint for the rehabtrack API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/rehabtrack/internal/analytics"
	"github.com/kiranshivaraju/rehabtrack/internal/api"
	"github.com/kiranshivaraju/rehabtrack/internal/api/handler"
	mw "github.com/kiranshivaraju/rehabtrack/internal/api/middleware"
	"github.com/kiranshivaraju/rehabtrack/internal/cache"
	"github.com/kiranshivaraju/rehabtrack/internal/config"
	"github.com/kiranshivaraju/rehabtrack/internal/events"
	"github.com/kiranshivaraju/rehabtrack/internal/pipeline"
	"github.com/kiranshivaraju/rehabtrack/internal/processing"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "processing_url", cfg.Processing.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Event publisher
	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer publisher.Close()

	// 6. Pipeline
	pgStore := store.NewPostgresStore(pool)
	results := cache.NewResultCache(redisCache, cfg.Redis.ResultCacheTTL)
	client := processing.NewHTTPClient(cfg.Processing.BaseURL, cfg.Processing.Timeout)

	poller := pipeline.NewPoller(client, pgStore, results, publisher, pipeline.PollerConfig{
		Interval:     cfg.Poller.Interval,
		MaxAttempts:  cfg.Poller.MaxAttempts,
		ScanInterval: cfg.Poller.ScanInterval,
	}, slog.Default())
	coordinator := pipeline.NewCoordinator(client, pgStore, poller, slog.Default())
	analyticsSvc := analytics.NewService(pgStore, analytics.NewAggregator(cfg.Analytics.MaxSpanDays),
		cfg.Analytics.Location, slog.Default())

	// 7. Build router with dependencies
	router := api.NewRouter(api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),

		HealthHandler:      handler.NewHealthHandler(pgStore, redisCache),
		SubmitVideoHandler: handler.NewSubmitVideoHandler(coordinator, cfg.Server.MaxUploadBytes),
		ListJobsHandler:    handler.NewListJobsHandler(pgStore),
		GetJobHandler:      handler.NewGetJobHandler(pgStore, results),
		WatchJobHandler:    handler.NewWatchJobHandler(pgStore, poller),
		UnwatchJobHandler:  handler.NewUnwatchJobHandler(pgStore, poller),
		LogPainHandler:     handler.NewLogPainHandler(analyticsSvc),
		ListSamplesHandler: handler.NewListSamplesHandler(analyticsSvc),
		AnalyticsHandler:   handler.NewAnalyticsHandler(analyticsSvc),
	})

	// 8. Serve until signalled
	srv := newHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), router, cfg.Processing.Timeout)
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if err := serve(ctx, ln, srv, poller); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newPublisher connects to RabbitMQ when AMQP_URL is set and drops events otherwise.
func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		slog.Info("event publishing disabled")
		return events.NoopPublisher{}, nil
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	slog.Info("event publisher connected", "exchange", cfg.Exchange)
	return p, nil
}

// newHTTPServer sizes the write timeout to cover a full upload to the processing service.
func newHTTPServer(addr string, h http.Handler, uploadTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: uploadTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serve runs the HTTP server and the poller until ctx is done or either fails,
// then drains connections and stops every poll loop.
func serve(ctx context.Context, ln net.Listener, srv *http.Server, poller *pipeline.Poller) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return poller.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
