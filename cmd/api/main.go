package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/studiobook/seatlock/internal/adapters/crdb"
	mongoadapter "github.com/studiobook/seatlock/internal/adapters/mongo"
	redisadapter "github.com/studiobook/seatlock/internal/adapters/redis"
	"github.com/studiobook/seatlock/internal/clock"
	"github.com/studiobook/seatlock/internal/config"
	"github.com/studiobook/seatlock/internal/expiry"
	httphandler "github.com/studiobook/seatlock/internal/http"
	"github.com/studiobook/seatlock/internal/idempotency"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/studiobook/seatlock/internal/rateLimit"
	"github.com/studiobook/seatlock/internal/reservation"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "seatlock-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cache := redisadapter.NewCache(redisClient, cfg.AvailabilityCacheTTL, logger)
	idemp := idempotency.NewIdempotency(redisadapter.NewResponseStore(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisClient)

	opts := []reservation.Option{
		reservation.WithLockTTL(cfg.LockTTL),
		reservation.WithMaxRetries(cfg.MaxTxRetries),
		reservation.WithSweepBatch(cfg.SweepBatch),
		reservation.WithLogger(logger),
		reservation.WithListener(cache),
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

	handlers := httphandler.NewHandlers(manager, cache, logger, repo, cache)
	routerOpts := httphandler.RouterOptions{
		Limiter:       rl,
		RatePerMinute: cfg.RateLimitPerMinute,
		Idempotency:   idemp,
	}
	if audit != nil {
		routerOpts.History = audit
	}
	r := httphandler.SetupRouter(handlers, logger, routerOpts)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("seatlock api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.SweepInterval > 0 {
		worker := expiry.NewWorker(manager, logger)
		g.Go(func() error {
			worker.Run(gctx, cfg.SweepInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
	}
	logger.Info("Server exiting")
}
