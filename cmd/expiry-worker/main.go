package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/studiobook/seatlock/internal/adapters/crdb"
	mongoadapter "github.com/studiobook/seatlock/internal/adapters/mongo"
	redisadapter "github.com/studiobook/seatlock/internal/adapters/redis"
	"github.com/studiobook/seatlock/internal/clock"
	"github.com/studiobook/seatlock/internal/config"
	"github.com/studiobook/seatlock/internal/expiry"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/studiobook/seatlock/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.SweepInterval <= 0 {
		log.Fatal("SWEEP_INTERVAL must be positive for the expiry worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "seatlock-expiry-worker")
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
		reservation.WithSweepBatch(cfg.SweepBatch),
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

	worker := expiry.NewWorker(manager, logger)
	if _, err := worker.Sweep(ctx); err != nil {
		logger.WithError(err).Error("initial sweep failed")
	}

	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")
	worker.Run(ctx, cfg.SweepInterval)
	logger.Info("Shutdown expiry worker")
}
