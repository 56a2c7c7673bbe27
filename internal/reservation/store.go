package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/studiobook/seatlock/internal/domain"
)

// Store is the durable state behind the manager. Every method other than
// WithTx must honor a transaction carried in ctx by WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetItem(ctx context.Context, itemType domain.ItemType, itemID string) (domain.BookableItem, error)
	// GetItemForUpdate locks the item row until the transaction ends.
	GetItemForUpdate(ctx context.Context, itemType domain.ItemType, itemID string) (domain.BookableItem, error)
	CountConfirmedBookings(ctx context.Context, itemType domain.ItemType, itemID string) (int, error)

	// ExpireItemLocks marks the item's ACTIVE locks with expires_at < now as
	// EXPIRED and returns them in their new state.
	ExpireItemLocks(ctx context.Context, itemType domain.ItemType, itemID string, now time.Time) ([]domain.SeatLock, error)
	CountLiveLocks(ctx context.Context, itemType domain.ItemType, itemID string, now time.Time) (int, error)
	InsertLock(ctx context.Context, lock domain.SeatLock) error
	GetLock(ctx context.Context, id uuid.UUID) (domain.SeatLock, error)
	GetLockForUpdate(ctx context.Context, id uuid.UUID) (domain.SeatLock, error)
	UpdateLock(ctx context.Context, lock domain.SeatLock) error
	// ExpireDueLocks is the sweep counterpart of ExpireItemLocks across all items.
	ExpireDueLocks(ctx context.Context, now time.Time, limit int) ([]domain.SeatLock, error)

	InsertBooking(ctx context.Context, booking domain.Booking) error
	GetBookingByLock(ctx context.Context, lockID uuid.UUID) (domain.Booking, error)
	AppendEvents(ctx context.Context, events []domain.LockEvent) error
}

// Listener observes lock transitions after they are committed. Listeners
// must not block for long; failures are theirs to log.
type Listener interface {
	OnLockEvent(ctx context.Context, ev domain.LockEvent)
}
