package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/movenbook/attribution-engine/internal/config"
	"github.com/movenbook/attribution-engine/internal/dispatch"
	"github.com/movenbook/attribution-engine/internal/geo"
	"github.com/movenbook/attribution-engine/internal/handler"
	"github.com/movenbook/attribution-engine/internal/infra/postgresql"
	"github.com/movenbook/attribution-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/movenbook/attribution-engine/internal/infra/redis"
	"github.com/movenbook/attribution-engine/internal/matcher"
	"github.com/movenbook/attribution-engine/internal/observability"
	"github.com/movenbook/attribution-engine/internal/penalty"
	"github.com/movenbook/attribution-engine/internal/queue"
	"github.com/movenbook/attribution-engine/internal/ratelimit"
	"github.com/movenbook/attribution-engine/internal/repository"
	"github.com/movenbook/attribution-engine/internal/service"
	"github.com/movenbook/attribution-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	eventPublisher := queue.NewRabbitMQEventPublisher(broker)
	paidConsumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)

	attributionRepo := repository.NewGormAttributionRepo(db)
	responseRepo := repository.NewGormResponseRepo(db)
	penaltyRepo := repository.NewGormPenaltyRepo(db)
	professionalRepo := repository.NewGormProfessionalRepo(db)
	bookingRepo := repository.NewGormBookingRepo(db)

	var lookup geo.Lookup
	if cfg.RoutingServiceURL != "" {
		routingClient, err := geo.NewRoutingClient(cfg.RoutingServiceURL)
		if err != nil {
			logger.Fatal("routing client initialization failed", zap.Error(err))
		}
		lookup = routingClient
	}

	finder, err := matcher.New(professionalRepo, lookup, logger)
	if err != nil {
		logger.Fatal("matcher initialization failed", zap.Error(err))
	}

	ledger, err := penalty.NewLedger(penaltyRepo, logger)
	if err != nil {
		logger.Fatal("penalty ledger initialization failed", zap.Error(err))
	}

	dispatcher, err := dispatch.NewWebhookDispatcher(cfg.DispatchWebhookURL, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}

	coordinator, err := service.NewCoordinator(
		attributionRepo,
		responseRepo,
		bookingRepo,
		finder,
		ledger,
		dispatcher,
		logger,
	)
	if err != nil {
		logger.Fatal("coordinator initialization failed", zap.Error(err))
	}
	coordinator.SetEventPublisher(eventPublisher)

	metrics := observability.NewMetrics()
	coordinator.SetMetrics(metrics)

	paymentWorker, err := service.NewPaymentWorker(
		attributionRepo,
		bookingRepo,
		coordinator,
		paidConsumer,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("payment worker initialization failed", zap.Error(err))
	}

	expiryScanner, err := service.NewExpiryScanner(
		attributionRepo,
		coordinator,
		cfg.ExpiryScanInterval(),
		cfg.AttributionTTL(),
		cfg.ExpiryScanLimit,
		logger,
	)
	if err != nil {
		logger.Fatal("expiry scanner initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "attribution-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	callbackLimiter := ratelimit.CallbackLimiter(rateLimiter, logger)
	if err := handler.RegisterAttributionRoutes(app, coordinator, callbackLimiter); err != nil {
		logger.Fatal("failed to register attribution routes", zap.Error(err))
	}
	if err := handler.RegisterPenaltyRoutes(app, ledger); err != nil {
		logger.Fatal("failed to register penalty routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return paymentWorker.Start(groupCtx)
	})
	g.Go(func() error {
		return expiryScanner.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("attribution-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("attribution-engine stopped with error", zap.Error(err))
	}
	logger.Info("attribution-engine stopped")
}
