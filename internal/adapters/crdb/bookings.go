package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/studiobook/seatlock/internal/domain"
)

func (r *Repository) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := r.exec(ctx, `
		INSERT INTO bookings (id, item_type, item_id, lock_id, payment_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, string(b.ItemType), b.ItemID, b.LockID, b.PaymentRef, string(b.Status), b.CreatedAt)
	if isUniqueViolation(err, "") {
		return domain.ErrLockAlreadyConsumed
	}
	return errors.Wrap(err, "insert booking")
}

func (r *Repository) GetBookingByLock(ctx context.Context, lockID uuid.UUID) (domain.Booking, error) {
	var (
		b        domain.Booking
		itemType string
		status   string
	)
	err := r.queryRow(ctx, `
		SELECT id, item_type, item_id, lock_id, payment_ref, status, created_at
		FROM bookings WHERE lock_id = $1
	`, lockID).Scan(&b.ID, &itemType, &b.ItemID, &b.LockID, &b.PaymentRef, &status, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, errors.Wrap(err, "get booking")
	}
	b.ItemType = domain.ItemType(itemType)
	b.Status = domain.BookingStatus(status)
	return b, nil
}
