package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ItemType string

const (
	ItemTypeClass ItemType = "CLASS"
	ItemTypeEvent ItemType = "EVENT"
)

// ParseItemType accepts the wire form of an item type, ignoring case and
// surrounding whitespace.
func ParseItemType(s string) (ItemType, error) {
	switch t := ItemType(strings.ToUpper(strings.TrimSpace(s))); t {
	case ItemTypeClass, ItemTypeEvent:
		return t, nil
	}
	return "", ErrInvalidItemType
}

type LockStatus string

const (
	LockStatusActive   LockStatus = "ACTIVE"
	LockStatusConsumed LockStatus = "CONSUMED"
	LockStatusReleased LockStatus = "RELEASED"
	LockStatusExpired  LockStatus = "EXPIRED"
)

func (s LockStatus) Terminal() bool {
	return s == LockStatusConsumed || s == LockStatusReleased || s == LockStatusExpired
}

// BookableItem is the CRUD layer's read model of a class or event.
type BookableItem struct {
	Type      ItemType
	ID        string
	Title     string
	Capacity  int
	Published bool
}

type SeatLock struct {
	ID                  uuid.UUID
	ItemType            ItemType
	ItemID              string
	Status              LockStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	UpdatedAt           time.Time
	ConsumedByBookingID *uuid.UUID
}

type BookingStatus string

const BookingStatusConfirmed BookingStatus = "CONFIRMED"

type Booking struct {
	ID         uuid.UUID
	ItemType   ItemType
	ItemID     string
	LockID     uuid.UUID
	PaymentRef string
	Status     BookingStatus
	CreatedAt  time.Time
}

type Availability struct {
	ItemType    ItemType
	ItemID      string
	Capacity    int
	Confirmed   int
	ActiveLocks int
}

func (a Availability) Remaining() int {
	r := a.Capacity - a.Confirmed - a.ActiveLocks
	if r < 0 {
		return 0
	}
	return r
}

type LockEventType string

const (
	LockEventAcquired LockEventType = "lock.acquired"
	LockEventConsumed LockEventType = "lock.consumed"
	LockEventReleased LockEventType = "lock.released"
	LockEventExpired  LockEventType = "lock.expired"
)

// LockEvent records a single lock transition. It is written to the outbox in
// the transaction that performed the transition.
type LockEvent struct {
	ID         uuid.UUID
	Type       LockEventType
	Lock       SeatLock
	OccurredAt time.Time
}

func NewLockEvent(t LockEventType, lock SeatLock, at time.Time) LockEvent {
	return LockEvent{
		ID:         uuid.New(),
		Type:       t,
		Lock:       lock,
		OccurredAt: at,
	}
}
