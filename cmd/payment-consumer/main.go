package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/studiobook/seatlock/internal/adapters/crdb"
	mongoadapter "github.com/studiobook/seatlock/internal/adapters/mongo"
	"github.com/studiobook/seatlock/internal/adapters/rabbit"
	redisadapter "github.com/studiobook/seatlock/internal/adapters/redis"
	"github.com/studiobook/seatlock/internal/clock"
	"github.com/studiobook/seatlock/internal/config"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/studiobook/seatlock/internal/payments"
	"github.com/studiobook/seatlock/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "seatlock-payment-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	opts := []reservation.Option{
		reservation.WithMaxRetries(cfg.MaxTxRetries),
		reservation.WithLogger(logger),
	}
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		opts = append(opts, reservation.WithListener(redisadapter.NewCache(redisClient, cfg.AvailabilityCacheTTL, logger)))
	}
	audit, closeAudit, err := mongoadapter.OpenAuditLogger(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer closeAudit()
	if audit != nil {
		opts = append(opts, reservation.WithListener(audit))
	}
	manager := reservation.NewManager(repo, clock.NewSystem(), opts...)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.PaymentsQueue, 16)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", cfg.PaymentsQueue, err)
	}

	logger.WithField("queue", cfg.PaymentsQueue).Info("payment consumer started")
	payments.NewHandler(manager, logger).Run(ctx, deliveries)
	logger.Info("Shutdown payment consumer")
}
