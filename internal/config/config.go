package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	CRDBDSN       string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RabbitURL     string
	PaymentsQueue string
	OTLPEndpoint  string
	LogLevel      string

	LockTTL              time.Duration
	SweepInterval        time.Duration
	SweepBatch           int
	MaxTxRetries         int
	OutboxInterval       time.Duration
	OutboxBatch          int
	IdempotencyTTL       time.Duration
	RateLimitPerMinute   int
	AvailabilityCacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      envString("HTTP_ADDR", ":8080"),
		CRDBDSN:       os.Getenv("CRDB_DSN"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: envString("MONGO_DB", "seatlock"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		PaymentsQueue: envString("PAYMENTS_QUEUE", "seatlock.payments"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:      envString("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.LockTTL, err = envDuration("LOCK_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepBatch, err = envInt("SWEEP_BATCH", 500); err != nil {
		return nil, err
	}
	if cfg.MaxTxRetries, err = envInt("MAX_TX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = envDuration("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxBatch, err = envInt("OUTBOX_BATCH", 50); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return nil, err
	}
	if cfg.AvailabilityCacheTTL, err = envDuration("AVAILABILITY_CACHE_TTL", 5*time.Second); err != nil {
		return nil, err
	}

	if cfg.LockTTL <= 0 {
		return nil, errors.Newf("LOCK_TTL must be positive, got %s", cfg.LockTTL)
	}
	if cfg.MaxTxRetries < 0 {
		return nil, errors.Newf("MAX_TX_RETRIES must not be negative, got %d", cfg.MaxTxRetries)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}
