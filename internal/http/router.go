package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/studiobook/seatlock/internal/observability"
)

type RouterOptions struct {
	Limiter       Limiter
	RatePerMinute int
	Idempotency   IdempotencyStore

	// History enables GET /api/availability/lock/{id}/history when set.
	History LockHistory
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/availability", func(r chi.Router) {
		r.Use(RateLimitMiddleware(opts.Limiter, opts.RatePerMinute))
		r.Use(IdempotencyMiddleware(opts.Idempotency))

		r.Post("/lock", h.AcquireLock)
		r.Get("/lock/{id}", h.GetLock)
		r.Post("/lock/{id}/consume", h.ConsumeLock)
		r.Delete("/lock/{id}", h.ReleaseLock)
		if opts.History != nil {
			r.Get("/lock/{id}/history", h.LockHistoryHandler(opts.History))
		}
		r.Get("/{itemType}/{itemId}", h.Availability)
	})

	return r
}
