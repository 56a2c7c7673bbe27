package expiry

import (
	"context"
	"time"

	"github.com/studiobook/seatlock/internal/observability"
)

type Sweeper interface {
	SweepExpiredLocks(ctx context.Context) (int, error)
	SweepBatch() int
}

// Worker periodically marks overdue locks EXPIRED. Capacity checks already
// ignore such locks; the sweep keeps the table and the event stream tidy.
type Worker struct {
	sweeper Sweeper
	logger  observability.Logger
}

func NewWorker(sweeper Sweeper, logger observability.Logger) *Worker {
	return &Worker{sweeper: sweeper, logger: logger}
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Error("failed to sweep expired locks")
			}
		}
	}
}

// Sweep drains overdue locks batch by batch and returns the total expired.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.sweeper.SweepExpiredLocks(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.sweeper.SweepBatch() {
			break
		}
	}
	if total > 0 {
		w.logger.WithField("expired", total).Info("expired stale seat locks")
	}
	return total, nil
}
