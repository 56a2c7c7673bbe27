package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrBookingNotFound      = errors.New("booking not found")
	ErrInvalidInput         = errors.New("invalid input")

	ErrItemNotFound        = errors.New("item not found")
	ErrInvalidItemType     = errors.New("invalid item type")
	ErrNoSeatsAvailable    = errors.New("no seats available")
	ErrLockNotFound        = errors.New("lock not found")
	ErrLockExpired         = errors.New("lock expired")
	ErrLockAlreadyConsumed = errors.New("lock already consumed")
	ErrLockReleased        = errors.New("lock released")
)
