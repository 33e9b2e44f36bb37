/**
 * @description
 * This is the main entry point for the payout-webhook-service.
 * It receives Wise transfer webhooks over HTTP, queues them through RabbitMQ and
 * reconciles payouts in the background. Investor emails are rendered and sent by
 * a second consumer. Failed deliveries are re-queued by a cron sweeper.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/jackc/pgx/v5: PostgreSQL connection pool.
 * - github.com/redis/go-redis/v9: Optional per-transfer delivery lock.
 * - The service's internal packages for config, API handling, reconciliation and messaging.
 */
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/payout-webhook-service/internal/api"
	"github.com/transfa/payout-webhook-service/internal/app"
	"github.com/transfa/payout-webhook-service/internal/config"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
	"github.com/transfa/payout-webhook-service/pkg/mailer"
	"github.com/transfa/payout-webhook-service/pkg/rabbitmq"
	"github.com/transfa/payout-webhook-service/pkg/wiseclient"
)

const consumerPrefetch = 10

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env for local development; deployed environments set variables directly.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" || cfg.RabbitMQURL == "" {
		logger.Error("DATABASE_URL and RABBITMQ_URL must be configured")
		os.Exit(1)
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := store.EnsureSchema(ctx, dbpool); err != nil {
		logger.Error("failed to ensure webhook delivery schema", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; deliveries will be deferred to the sweeper", "error", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		publisher = producer
		logger.Info("rabbitmq producer connected")
	}
	defer publisher.Close()

	var locker app.TransferLocker
	if cfg.RedisURL == "" {
		logger.Warn("redis url missing; per-transfer delivery lock disabled")
	} else if redisOptions, parseErr := redis.ParseURL(cfg.RedisURL); parseErr != nil {
		logger.Warn("redis url parse failed; per-transfer delivery lock disabled", "error", parseErr)
	} else {
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			logger.Warn("redis ping failed; per-transfer delivery lock disabled", "error", pingErr)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			locker = app.NewRedisTransferLocker(redisClient, cfg.RedisLockPrefix, time.Duration(cfg.TransferLockTTLSeconds)*time.Second)
			logger.Info("redis connected")
		}
	}

	var sender mailer.Sender
	if cfg.SendGridAPIKey == "" {
		logger.Warn("SENDGRID_API_KEY not set; investor emails will only be logged")
		sender = mailer.LogSender{Logf: log.Printf}
	} else {
		sendGrid, err := mailer.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromName, cfg.SendGridFromEmail, cfg.SendGridSandboxMode)
		if err != nil {
			logger.Error("failed to configure sendgrid", "error", err)
			os.Exit(1)
		}
		sender = sendGrid
	}

	// Initialize dependencies
	repository := store.NewPostgresRepository(dbpool)
	wise := wiseclient.NewClient(cfg.WiseAPIBaseURL)
	enricher := app.NewStateEnricher(repository, wise)
	notifier := app.NewQueueNotifier(publisher, cfg.NotificationExchange)
	dispatcher := app.NewDispatcher(repository, enricher, notifier, logger)
	recovery := app.NewPayoutFailureService(repository, notifier, logger)
	deliveryQueue := app.NewDeliveryQueue(publisher, cfg.DeliveryExchange)

	worker := app.NewDeliveryWorker(repository, dispatcher, recovery, locker, app.WorkerConfig{
		DefaultProfileID: cfg.WiseProfileID,
		MaxAttempts:      cfg.MaxDeliveryAttempts,
	}, logger)
	mailConsumer := app.NewMailConsumer(repository, sender, logger)

	deliveryConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, consumerPrefetch)
	if err != nil {
		logger.Error("rabbitmq delivery consumer init failed", "error", err)
		os.Exit(1)
	}
	defer deliveryConsumer.Close()

	if err := deliveryConsumer.ConsumeWithBindings(cfg.DeliveryExchange, cfg.DeliveryQueue, map[string]rabbitmq.Handler{
		app.RoutingKeyStateChange:   worker.HandleMessage,
		app.RoutingKeyRefund:        worker.HandleMessage,
		app.RoutingKeyPayoutFailure: worker.HandleMessage,
	}); err != nil {
		logger.Error("delivery consumer start failed", "error", err)
		os.Exit(1)
	}

	notificationConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, consumerPrefetch)
	if err != nil {
		logger.Error("rabbitmq notification consumer init failed", "error", err)
		os.Exit(1)
	}
	defer notificationConsumer.Close()

	if err := notificationConsumer.ConsumeWithBindings(cfg.NotificationExchange, cfg.NotificationQueue, map[string]rabbitmq.Handler{
		app.NotificationRoutingKey(domain.TemplateDividendPaymentFailed):    mailConsumer.HandleMessage,
		app.NotificationRoutingKey(domain.TemplateDividendPaymentSent):      mailConsumer.HandleMessage,
		app.NotificationRoutingKey(domain.TemplateEquityBuybackPaymentSent): mailConsumer.HandleMessage,
	}); err != nil {
		logger.Error("notification consumer start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("rabbitmq consumers started", "delivery_queue", cfg.DeliveryQueue, "notification_queue", cfg.NotificationQueue)

	sweeper := app.NewRetrySweeper(repository, deliveryQueue, 0, logger)
	scheduler := app.NewScheduler(sweeper, cfg.RetrySweepSchedule, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start retry sweeper", "error", err)
		os.Exit(1)
	}

	var verifier *api.SignatureVerifier
	if cfg.WiseWebhookPublicKey != "" {
		verifier, err = api.NewSignatureVerifier(cfg.WiseWebhookPublicKey)
		if err != nil {
			logger.Error("invalid WISE_WEBHOOK_PUBLIC_KEY", "error", err)
			os.Exit(1)
		}
	}

	intake := app.NewIntakeService(repository, deliveryQueue, logger)
	admin := app.NewDeliveryAdmin(repository, deliveryQueue, logger)
	router := api.NewRouter(
		api.NewWebhookHandler(intake, verifier, logger),
		api.NewOperatorHandler(admin, logger),
		cfg.InternalJWTSecret,
	)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("shutdown complete")
}
