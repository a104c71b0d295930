package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/selimunal/notification-relay/internal/config"
	"github.com/selimunal/notification-relay/internal/handler"
	"github.com/selimunal/notification-relay/internal/infra/postgresql"
	"github.com/selimunal/notification-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/selimunal/notification-relay/internal/infra/redis"
	"github.com/selimunal/notification-relay/internal/observability"
	"github.com/selimunal/notification-relay/internal/provider"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
	"github.com/selimunal/notification-relay/internal/service"
	"github.com/selimunal/notification-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

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
		logger.Fatal("notification-relay exited", zap.Error(err))
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	dedupGuard := infraredis.NewDedupGuard(rdb)

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer broker.Close()

	publisher := queue.NewRabbitMQPublisher(broker)
	dispatchConsumer := queue.NewRabbitMQConsumer(broker, cfg.DispatchWorkers, logger)
	terminalConsumer := queue.NewRabbitMQConsumer(broker, 1, logger)
	webhookConsumer := queue.NewRabbitMQConsumer(broker, cfg.WebhookWorkers, logger)

	notificationRepo := repository.NewGormNotificationRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	webhookRepo := repository.NewGormWebhookRepo(db)
	deliveryRepo := repository.NewGormWebhookDeliveryRepo(db)
	providerRepo := repository.NewGormProviderRepo(db)
	serviceUserRepo := repository.NewGormServiceUserRepo(db)

	registry := provider.NewRegistry(providerRepo, logger)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("provider registry load failed: %w", err)
	}

	metrics := observability.NewMetrics()
	fanout := service.NewEventFanout(webhookRepo, deliveryRepo, publisher, logger)

	notificationService, err := service.NewNotificationService(
		notificationRepo, attemptRepo, deliveryRepo, serviceUserRepo,
		publisher, registry, dedupGuard, fanout,
		cfg.DedupWindow(), logger,
	)
	if err != nil {
		return fmt.Errorf("notification service init failed: %w", err)
	}
	notificationService.SetMetrics(metrics)

	webhookService, err := service.NewWebhookService(webhookRepo, deliveryRepo, serviceUserRepo)
	if err != nil {
		return fmt.Errorf("webhook service init failed: %w", err)
	}

	dispatcher, err := service.NewDispatcher(
		notificationRepo, attemptRepo,
		dispatchConsumer, publisher,
		registry, rateLimiter, fanout,
		cfg.DispatchWorkers, logger,
	)
	if err != nil {
		return fmt.Errorf("dispatcher init failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	terminalMarker, err := service.NewTerminalMarker(
		notificationRepo, attemptRepo,
		terminalConsumer, fanout, logger,
	)
	if err != nil {
		return fmt.Errorf("terminal marker init failed: %w", err)
	}

	webhookEngine, err := service.NewWebhookEngine(
		webhookRepo, deliveryRepo, notificationRepo, attemptRepo,
		webhookConsumer, publisher,
		cfg.WebhookWorkers, logger,
	)
	if err != nil {
		return fmt.Errorf("webhook engine init failed: %w", err)
	}
	webhookEngine.SetMetrics(metrics)

	sweeper, err := service.NewSweeper(
		notificationRepo, deliveryRepo, publisher,
		cfg.SweepInterval(), cfg.SweepBatchLimit, logger,
	)
	if err != nil {
		return fmt.Errorf("sweeper init failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(func(c *fiber.Ctx) error {
		if id, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, broker)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return fmt.Errorf("notification routes init failed: %w", err)
	}
	if err := handler.RegisterWebhookRoutes(app, webhookService); err != nil {
		return fmt.Errorf("webhook routes init failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("notification-relay api listening", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http listener failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error { return dispatcher.Start(gctx) })
	g.Go(func() error { return terminalMarker.Start(gctx) })
	g.Go(func() error { return webhookEngine.Start(gctx) })
	g.Go(func() error { return sweeper.Start(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("notification-relay stopped")
	return nil
}
