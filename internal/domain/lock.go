package domain

import (
	"time"

	"github.com/google/uuid"
)

func NewSeatLock(itemType ItemType, itemID string, now time.Time, ttl time.Duration) SeatLock {
	return SeatLock{
		ID:        uuid.New(),
		ItemType:  itemType,
		ItemID:    itemID,
		Status:    LockStatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
}

// Live reports whether the lock still counts toward capacity at now.
func (l SeatLock) Live(now time.Time) bool {
	return l.Status == LockStatusActive && !now.After(l.ExpiresAt)
}

// EffectiveStatus is the status a reader should observe at now: an ACTIVE
// lock past its deadline is already EXPIRED even if no sweep has marked it.
func (l SeatLock) EffectiveStatus(now time.Time) LockStatus {
	if l.Status == LockStatusActive && now.After(l.ExpiresAt) {
		return LockStatusExpired
	}
	return l.Status
}

// Consume moves an ACTIVE lock to CONSUMED. A lock found past its deadline is
// moved to EXPIRED instead and ErrLockExpired is returned; the caller must
// persist that change.
func (l *SeatLock) Consume(bookingID uuid.UUID, now time.Time) error {
	switch l.Status {
	case LockStatusConsumed:
		return ErrLockAlreadyConsumed
	case LockStatusReleased:
		return ErrLockReleased
	case LockStatusExpired:
		return ErrLockExpired
	}
	if now.After(l.ExpiresAt) {
		l.Status = LockStatusExpired
		l.UpdatedAt = now
		return ErrLockExpired
	}
	l.Status = LockStatusConsumed
	l.ConsumedByBookingID = &bookingID
	l.UpdatedAt = now
	return nil
}

// Release frees an ACTIVE lock. It returns false when the lock was already
// terminal. A lock past its deadline becomes EXPIRED rather than RELEASED.
func (l *SeatLock) Release(now time.Time) bool {
	if l.Status.Terminal() {
		return false
	}
	if now.After(l.ExpiresAt) {
		l.Status = LockStatusExpired
	} else {
		l.Status = LockStatusReleased
	}
	l.UpdatedAt = now
	return true
}

func (l *SeatLock) Expire(now time.Time) bool {
	if l.Status != LockStatusActive || !now.After(l.ExpiresAt) {
		return false
	}
	l.Status = LockStatusExpired
	l.UpdatedAt = now
	return true
}

func NewBooking(id uuid.UUID, lock SeatLock, paymentRef string, now time.Time) Booking {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return Booking{
		ID:         id,
		ItemType:   lock.ItemType,
		ItemID:     lock.ItemID,
		LockID:     lock.ID,
		PaymentRef: paymentRef,
		Status:     BookingStatusConfirmed,
		CreatedAt:  now,
	}
}
