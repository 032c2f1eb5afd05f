package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/smartgeocode/geobatch/internal/auth"
	"github.com/smartgeocode/geobatch/internal/config"
	"github.com/smartgeocode/geobatch/internal/handler"
	"github.com/smartgeocode/geobatch/internal/infra/postgresql"
	"github.com/smartgeocode/geobatch/internal/infra/postgresql/migrations"
	infraredis "github.com/smartgeocode/geobatch/internal/infra/redis"
	"github.com/smartgeocode/geobatch/internal/observability"
	"github.com/smartgeocode/geobatch/internal/provider"
	"github.com/smartgeocode/geobatch/internal/queue"
	"github.com/smartgeocode/geobatch/internal/quota"
	"github.com/smartgeocode/geobatch/internal/ratelimit"
	"github.com/smartgeocode/geobatch/internal/repository"
	"github.com/smartgeocode/geobatch/internal/service"
	"github.com/smartgeocode/geobatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("geobatch exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	// Redis is optional: without it the provider rate limit is enforced
	// per instance instead of fleet-wide.
	var rdb *goredis.Client
	var rateLimiter ratelimit.RateLimiter
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()

		rateLimiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.GeocodeRatePerSec)
		if err != nil {
			return fmt.Errorf("redis rate limiter init failed: %w", err)
		}
	} else {
		logger.Warn("REDIS_URL not set, using per-instance rate limiting")
		rateLimiter = ratelimit.NewLocalRateLimiter(cfg.GeocodeRatePerSec)
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, 1, logger)

	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	usageRepo := repository.NewGormUsageRepo(db)
	accountRepo := repository.NewGormAccountRepo(db)

	ledger := quota.NewLedger(usageRepo, accountRepo, metrics, logger)

	geocoder, err := provider.NewNominatimProvider(cfg.NominatimURL)
	if err != nil {
		return fmt.Errorf("geocoding provider init failed: %w", err)
	}

	batchService, err := service.NewBatchService(batchRepo, ledger, publisher, cfg.MaxBatchRows, cfg.PreviewRows, logger)
	if err != nil {
		return fmt.Errorf("batch service init failed: %w", err)
	}

	lookupService, err := service.NewLookupService(ledger, geocoder, rateLimiter, metrics, logger)
	if err != nil {
		return fmt.Errorf("lookup service init failed: %w", err)
	}

	worker, err := service.NewWorkerService(batchRepo, ledger, consumer, geocoder, rateLimiter,
		cfg.JobSlots, cfg.RowConcurrency, logger)
	if err != nil {
		return fmt.Errorf("worker init failed: %w", err)
	}
	worker.SetMetrics(metrics)

	verifier, err := auth.NewHTTPVerifier(cfg.AuthVerifyURL)
	if err != nil {
		return fmt.Errorf("auth verifier init failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Use(auth.Middleware(verifier, logger))
	if err := handler.RegisterBatchRoutes(app, batchService, lookupService); err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("geobatch api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("metrics server started", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("batch workers started",
			zap.Int("jobSlots", cfg.JobSlots),
			zap.Int("rowConcurrency", cfg.RowConcurrency),
		)
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("geobatch stopped")
	return nil
}
