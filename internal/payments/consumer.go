package payments

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/studiobook/seatlock/internal/reservation"
)

type LockConsumer interface {
	ConsumeLock(ctx context.Context, in reservation.ConsumeInput) (domain.Booking, error)
	BookingForLock(ctx context.Context, lockID uuid.UUID) (domain.Booking, error)
}

// CapturedMessage is sent by the payment collaborator once a payment for a
// checkout has been captured.
type CapturedMessage struct {
	LockID     string `json:"lockId"`
	BookingID  string `json:"bookingId,omitempty"`
	PaymentRef string `json:"paymentRef"`
}

// ErrMalformed marks messages that can never be processed.
var ErrMalformed = errors.New("malformed payment message")

type Handler struct {
	locks  LockConsumer
	logger observability.Logger
}

func NewHandler(locks LockConsumer, logger observability.Logger) *Handler {
	return &Handler{locks: locks, logger: logger}
}

// Handle turns one captured-payment message into a confirmed booking.
func (h *Handler) Handle(ctx context.Context, body []byte) (domain.Booking, error) {
	var msg CapturedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Booking{}, errors.Mark(errors.Wrap(err, "decode"), ErrMalformed)
	}
	lockID, err := uuid.Parse(msg.LockID)
	if err != nil {
		return domain.Booking{}, errors.Mark(errors.Wrap(err, "lockId"), ErrMalformed)
	}
	var bookingID uuid.UUID
	if msg.BookingID != "" {
		if bookingID, err = uuid.Parse(msg.BookingID); err != nil {
			return domain.Booking{}, errors.Mark(errors.Wrap(err, "bookingId"), ErrMalformed)
		}
	}

	booking, err := h.locks.ConsumeLock(ctx, reservation.ConsumeInput{
		LockID:     lockID,
		BookingID:  bookingID,
		PaymentRef: msg.PaymentRef,
	})
	if errors.Is(err, domain.ErrLockAlreadyConsumed) {
		if prior, ok := h.redelivered(ctx, lockID, bookingID, msg.PaymentRef); ok {
			return prior, nil
		}
	}
	return booking, err
}

// redelivered reports whether the lock was already consumed by this same
// payment, in which case the earlier booking stands.
func (h *Handler) redelivered(ctx context.Context, lockID, bookingID uuid.UUID, paymentRef string) (domain.Booking, bool) {
	if paymentRef == "" {
		return domain.Booking{}, false
	}
	prior, err := h.locks.BookingForLock(ctx, lockID)
	if err != nil {
		if !errors.Is(err, domain.ErrBookingNotFound) {
			h.logger.WithError(err).WithField("lock_id", lockID.String()).Warn("failed to load booking for consumed lock")
		}
		return domain.Booking{}, false
	}
	if prior.PaymentRef != paymentRef || (bookingID != uuid.Nil && prior.ID != bookingID) {
		return domain.Booking{}, false
	}
	return prior, true
}

// Settle decides the fate of a delivery given the outcome of Handle: done
// work and permanent rejections are acked, anything else is requeued.
func Settle(err error) (ack bool, requeue bool) {
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, ErrMalformed),
		errors.Is(err, domain.ErrLockNotFound),
		errors.Is(err, domain.ErrLockExpired),
		errors.Is(err, domain.ErrLockReleased),
		errors.Is(err, domain.ErrLockAlreadyConsumed):
		return true, false
	default:
		return false, true
	}
}

func (h *Handler) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			h.process(ctx, d)
		}
	}
}

func (h *Handler) process(ctx context.Context, d amqp.Delivery) {
	log := h.logger.WithField("message_id", d.MessageId)

	booking, err := h.Handle(ctx, d.Body)
	ack, requeue := Settle(err)

	switch {
	case err == nil:
		log.WithField("booking_id", booking.ID.String()).Info("booking confirmed from payment")
	case ack:
		// A different payment reached a lock that is gone; it must be refunded.
		log.WithError(err).Warn("payment could not be applied to lock")
	default:
		log.WithError(err).Error("payment processing failed, requeueing")
	}

	if ack {
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("ack failed")
		}
		return
	}
	if err := d.Nack(false, requeue); err != nil {
		log.WithError(err).Error("nack failed")
	}
}
