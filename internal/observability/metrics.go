package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatlock_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatlock_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatlock_tx_retries_total",
			Help: "Transactions retried after a serialization conflict",
		},
		[]string{"op"},
	)

	LockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatlock_lock_acquisitions_total",
			Help: "Lock acquisition attempts by result",
		},
		[]string{"item_type", "result"},
	)

	LockTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatlock_lock_transitions_total",
			Help: "Lock state transitions by target status",
		},
		[]string{"status"},
	)

	SweepExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seatlock_sweep_expired_total",
			Help: "Locks marked expired by the background sweep",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatlock_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last batch",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seatlock_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seatlock_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			DBTxDuration,
			TxRetries,
			LockAcquisitions,
			LockTransitions,
			SweepExpired,
			OutboxLag,
			RabbitPublishRetries,
			RateLimitExceeded,
		)
	})
}
