package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/studiobook/seatlock/internal/adapters/crdb"
	"github.com/studiobook/seatlock/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ClaimOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type MessagePublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays committed outbox rows to the broker. Delivery is at least
// once; consumers dedupe on MessageId.
type Publisher struct {
	store     Store
	rabbitPub MessagePublisher
	logger    observability.Logger
	batch     int
}

func NewPublisher(store Store, rabbitPub MessagePublisher, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{store: store, rabbitPub: rabbitPub, logger: logger, batch: batch}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.PublishBatch(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox batch failed")
					break
				}
				if n < p.batch {
					break
				}
			}
		}
	}
}

// PublishBatch claims one batch, publishes it in order and marks what was
// sent. It stops at the first record the broker refuses so ordering holds.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithTx(ctx, func(txCtx context.Context) error {
		published = 0
		records, err := p.store.ClaimOutbox(txCtx, p.batch)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())
		}

		for _, rec := range records {
			if err := p.publish(txCtx, rec); err != nil {
				p.logger.WithError(err).WithField("outbox_id", rec.ID.String()).Warn("publish failed, will retry next tick")
				return nil
			}
			if err := p.store.MarkPublished(txCtx, rec.ID, time.Now().UTC()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}

func (p *Publisher) publish(ctx context.Context, rec crdb.OutboxRecord) error {
	msg := amqp.Publishing{
		MessageId:    rec.DedupeKey,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    rec.CreatedAt,
		Type:         rec.EventType,
		Body:         rec.Payload,
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)

	return backoff.RetryNotify(func() error {
		return p.rabbitPub.Publish(ctx, rec.EventType, msg)
	}, b, func(error, time.Duration) {
		observability.RabbitPublishRetries.Inc()
	})
}
