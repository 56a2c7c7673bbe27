package reservation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/studiobook/seatlock/internal/clock"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultLockTTL    = 10 * time.Minute
	defaultMaxRetries = 5
	defaultSweepBatch = 500
)

// Manager grants time-boxed seat locks on capacity-limited items. All
// admission decisions are recomputed from durable state inside a single
// transaction; the manager holds no counters of its own.
type Manager struct {
	store      Store
	clock      clock.Clock
	lockTTL    time.Duration
	maxRetries int
	sweepBatch int
	listeners  []Listener
	logger     observability.Logger
	tracer     trace.Tracer
}

type Option func(*Manager)

func WithLockTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lockTTL = d
		}
	}
}

// WithMaxRetries bounds how many times a transaction is re-run after a
// serialization conflict.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

func WithSweepBatch(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sweepBatch = n
		}
	}
}

func WithListener(l Listener) Option {
	return func(m *Manager) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(store Store, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		clock:      clk,
		lockTTL:    defaultLockTTL,
		maxRetries: defaultMaxRetries,
		sweepBatch: defaultSweepBatch,
		logger:     observability.NewNopLogger(),
		tracer:     otel.Tracer("github.com/studiobook/seatlock/internal/reservation"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) LockTTL() time.Duration {
	return m.lockTTL
}

// AcquireLock reserves one seat of the item for the configured TTL. The
// item row is locked for the duration of the check-then-insert, so two
// acquirers of the same item can never both observe the last free seat.
func (m *Manager) AcquireLock(ctx context.Context, itemType domain.ItemType, itemID string) (domain.SeatLock, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.AcquireLock", trace.WithAttributes(
		attribute.String("item.id", itemID),
	))
	defer span.End()

	itemType, err := domain.ParseItemType(string(itemType))
	if err != nil {
		return domain.SeatLock{}, endSpan(span, err)
	}
	span.SetAttributes(attribute.String("item.type", string(itemType)))
	if itemID == "" {
		return domain.SeatLock{}, endSpan(span, errors.Wrap(domain.ErrInvalidInput, "item id is required"))
	}

	var lock domain.SeatLock
	err = m.inTx(ctx, "acquire", func(txCtx context.Context) ([]domain.LockEvent, error) {
		now := m.clock.Now()

		item, err := m.store.GetItemForUpdate(txCtx, itemType, itemID)
		if err != nil {
			return nil, err
		}
		if !item.Published {
			return nil, domain.ErrItemNotFound
		}

		expired, err := m.store.ExpireItemLocks(txCtx, itemType, itemID, now)
		if err != nil {
			return nil, err
		}
		live, err := m.store.CountLiveLocks(txCtx, itemType, itemID, now)
		if err != nil {
			return nil, err
		}
		confirmed, err := m.store.CountConfirmedBookings(txCtx, itemType, itemID)
		if err != nil {
			return nil, err
		}
		if live+confirmed >= item.Capacity {
			return nil, domain.ErrNoSeatsAvailable
		}

		lock = domain.NewSeatLock(itemType, itemID, now, m.lockTTL)
		if err := m.store.InsertLock(txCtx, lock); err != nil {
			return nil, err
		}

		events := make([]domain.LockEvent, 0, len(expired)+1)
		for _, l := range expired {
			events = append(events, domain.NewLockEvent(domain.LockEventExpired, l, now))
		}
		return append(events, domain.NewLockEvent(domain.LockEventAcquired, lock, now)), nil
	})
	observability.LockAcquisitions.WithLabelValues(string(itemType), acquireResult(err)).Inc()
	if err != nil {
		return domain.SeatLock{}, endSpan(span, err)
	}
	span.SetAttributes(attribute.String("lock.id", lock.ID.String()))
	return lock, nil
}

type ConsumeInput struct {
	LockID uuid.UUID
	// BookingID is optional; one is generated when zero.
	BookingID  uuid.UUID
	PaymentRef string
}

// ConsumeLock exchanges an ACTIVE lock for a confirmed booking. The booking
// row and the lock transition commit together or not at all.
func (m *Manager) ConsumeLock(ctx context.Context, in ConsumeInput) (domain.Booking, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.ConsumeLock", trace.WithAttributes(
		attribute.String("lock.id", in.LockID.String()),
	))
	defer span.End()

	var (
		booking    domain.Booking
		expiredNow bool
	)
	err := m.inTx(ctx, "consume", func(txCtx context.Context) ([]domain.LockEvent, error) {
		expiredNow = false
		now := m.clock.Now()

		lock, err := m.store.GetLockForUpdate(txCtx, in.LockID)
		if err != nil {
			return nil, err
		}

		bookingID := in.BookingID
		if bookingID == uuid.Nil {
			bookingID = uuid.New()
		}

		wasActive := lock.Status == domain.LockStatusActive
		if err := lock.Consume(bookingID, now); err != nil {
			if errors.Is(err, domain.ErrLockExpired) && wasActive {
				// Persist the expiry; the caller still gets ErrLockExpired.
				if err := m.store.UpdateLock(txCtx, lock); err != nil {
					return nil, err
				}
				expiredNow = true
				return []domain.LockEvent{domain.NewLockEvent(domain.LockEventExpired, lock, now)}, nil
			}
			return nil, err
		}

		booking = domain.NewBooking(bookingID, lock, in.PaymentRef, now)
		if err := m.store.InsertBooking(txCtx, booking); err != nil {
			return nil, err
		}
		if err := m.store.UpdateLock(txCtx, lock); err != nil {
			return nil, err
		}
		return []domain.LockEvent{domain.NewLockEvent(domain.LockEventConsumed, lock, now)}, nil
	})
	if err == nil && expiredNow {
		err = domain.ErrLockExpired
	}
	if err != nil {
		return domain.Booking{}, endSpan(span, err)
	}
	span.SetAttributes(attribute.String("booking.id", booking.ID.String()))
	return booking, nil
}

// ReleaseLock frees an ACTIVE lock. Releasing a terminal lock is a no-op and
// returns the lock unchanged.
func (m *Manager) ReleaseLock(ctx context.Context, lockID uuid.UUID) (domain.SeatLock, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.ReleaseLock", trace.WithAttributes(
		attribute.String("lock.id", lockID.String()),
	))
	defer span.End()

	var lock domain.SeatLock
	err := m.inTx(ctx, "release", func(txCtx context.Context) ([]domain.LockEvent, error) {
		now := m.clock.Now()

		var err error
		lock, err = m.store.GetLockForUpdate(txCtx, lockID)
		if err != nil {
			return nil, err
		}
		if !lock.Release(now) {
			return nil, nil
		}
		if err := m.store.UpdateLock(txCtx, lock); err != nil {
			return nil, err
		}
		evType := domain.LockEventReleased
		if lock.Status == domain.LockStatusExpired {
			evType = domain.LockEventExpired
		}
		return []domain.LockEvent{domain.NewLockEvent(evType, lock, now)}, nil
	})
	if err != nil {
		return domain.SeatLock{}, endSpan(span, err)
	}
	return lock, nil
}

// SweepExpiredLocks marks up to one batch of overdue ACTIVE locks as EXPIRED
// and reports how many it changed. Capacity checks never rely on it.
func (m *Manager) SweepExpiredLocks(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.SweepExpiredLocks")
	defer span.End()

	var n int
	err := m.inTx(ctx, "sweep", func(txCtx context.Context) ([]domain.LockEvent, error) {
		now := m.clock.Now()

		expired, err := m.store.ExpireDueLocks(txCtx, now, m.sweepBatch)
		if err != nil {
			return nil, err
		}
		n = len(expired)
		events := make([]domain.LockEvent, 0, len(expired))
		for _, l := range expired {
			events = append(events, domain.NewLockEvent(domain.LockEventExpired, l, now))
		}
		return events, nil
	})
	if err != nil {
		return 0, endSpan(span, err)
	}
	observability.SweepExpired.Add(float64(n))
	span.SetAttributes(attribute.Int("sweep.expired", n))
	return n, nil
}

func (m *Manager) SweepBatch() int {
	return m.sweepBatch
}

// GetLock returns the lock with its effective status at the current time.
func (m *Manager) GetLock(ctx context.Context, lockID uuid.UUID) (domain.SeatLock, error) {
	lock, err := m.store.GetLock(ctx, lockID)
	if err != nil {
		return domain.SeatLock{}, err
	}
	lock.Status = lock.EffectiveStatus(m.clock.Now())
	return lock, nil
}

// BookingForLock returns the booking a consumed lock was exchanged for.
func (m *Manager) BookingForLock(ctx context.Context, lockID uuid.UUID) (domain.Booking, error) {
	return m.store.GetBookingByLock(ctx, lockID)
}

func (m *Manager) Availability(ctx context.Context, itemType domain.ItemType, itemID string) (domain.Availability, error) {
	itemType, err := domain.ParseItemType(string(itemType))
	if err != nil {
		return domain.Availability{}, err
	}

	var av domain.Availability
	err = m.inTx(ctx, "availability", func(txCtx context.Context) ([]domain.LockEvent, error) {
		now := m.clock.Now()

		item, err := m.store.GetItem(txCtx, itemType, itemID)
		if err != nil {
			return nil, err
		}
		if !item.Published {
			return nil, domain.ErrItemNotFound
		}
		live, err := m.store.CountLiveLocks(txCtx, itemType, itemID, now)
		if err != nil {
			return nil, err
		}
		confirmed, err := m.store.CountConfirmedBookings(txCtx, itemType, itemID)
		if err != nil {
			return nil, err
		}
		av = domain.Availability{
			ItemType:    itemType,
			ItemID:      itemID,
			Capacity:    item.Capacity,
			Confirmed:   confirmed,
			ActiveLocks: live,
		}
		return nil, nil
	})
	return av, err
}

// inTx runs fn in a store transaction, writes the events it returns to the
// outbox in that same transaction, and retries the whole unit on
// serialization conflicts. Listeners see the events only after commit.
func (m *Manager) inTx(ctx context.Context, op string, fn func(ctx context.Context) ([]domain.LockEvent, error)) error {
	var events []domain.LockEvent
	attempt := func() error {
		events = nil
		err := m.store.WithTx(ctx, func(txCtx context.Context) error {
			evs, err := fn(txCtx)
			if err != nil {
				return err
			}
			if len(evs) > 0 {
				if err := m.store.AppendEvents(txCtx, evs); err != nil {
					return err
				}
			}
			events = evs
			return nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.maxRetries)), ctx)

	err := backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		observability.TxRetries.WithLabelValues(op).Inc()
		m.logger.WithField("op", op).WithField("wait", wait.String()).Debug("retrying transaction after conflict")
	})
	if err != nil {
		return err
	}

	for _, ev := range events {
		observability.LockTransitions.WithLabelValues(string(ev.Lock.Status)).Inc()
		for _, l := range m.listeners {
			l.OnLockEvent(ctx, ev)
		}
	}
	return nil
}

func acquireResult(err error) string {
	switch {
	case err == nil:
		return "granted"
	case errors.Is(err, domain.ErrNoSeatsAvailable):
		return "no_seats"
	case errors.Is(err, domain.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrSerializationFailure):
		return "conflict"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
