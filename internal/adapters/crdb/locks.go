package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/studiobook/seatlock/internal/domain"
)

const lockColumns = `id, item_type, item_id, status, created_at, expires_at, updated_at, consumed_by_booking_id`

func (r *Repository) InsertLock(ctx context.Context, lock domain.SeatLock) error {
	_, err := r.exec(ctx, `
		INSERT INTO seat_locks (id, item_type, item_id, status, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, lock.ID, string(lock.ItemType), lock.ItemID, string(lock.Status), lock.CreatedAt, lock.ExpiresAt, lock.UpdatedAt)
	return errors.Wrap(err, "insert lock")
}

func (r *Repository) GetLock(ctx context.Context, id uuid.UUID) (domain.SeatLock, error) {
	return r.getLock(ctx, `SELECT `+lockColumns+` FROM seat_locks WHERE id = $1`, id)
}

func (r *Repository) GetLockForUpdate(ctx context.Context, id uuid.UUID) (domain.SeatLock, error) {
	return r.getLock(ctx, `SELECT `+lockColumns+` FROM seat_locks WHERE id = $1 FOR UPDATE`, id)
}

func (r *Repository) getLock(ctx context.Context, sql string, id uuid.UUID) (domain.SeatLock, error) {
	lock, err := scanLock(r.queryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SeatLock{}, domain.ErrLockNotFound
	}
	if err != nil {
		return domain.SeatLock{}, errors.Wrap(err, "get lock")
	}
	return lock, nil
}

// UpdateLock persists a state transition. The WHERE clause only matches
// ACTIVE rows so a terminal lock can never be rewritten.
func (r *Repository) UpdateLock(ctx context.Context, lock domain.SeatLock) error {
	result, err := r.exec(ctx, `
		UPDATE seat_locks
		SET status = $2, consumed_by_booking_id = $3, updated_at = $4
		WHERE id = $1 AND status = 'ACTIVE'
	`, lock.ID, string(lock.Status), lock.ConsumedByBookingID, lock.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update lock")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrLockNotFound
	}
	return nil
}

func (r *Repository) CountLiveLocks(ctx context.Context, itemType domain.ItemType, itemID string, now time.Time) (int, error) {
	var n int
	err := r.queryRow(ctx, `
		SELECT count(*) FROM seat_locks
		WHERE item_type = $1 AND item_id = $2 AND status = 'ACTIVE' AND expires_at >= $3
	`, string(itemType), itemID, now).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count live locks")
	}
	return n, nil
}

func (r *Repository) ExpireItemLocks(ctx context.Context, itemType domain.ItemType, itemID string, now time.Time) ([]domain.SeatLock, error) {
	return r.collectLocks(ctx, `
		UPDATE seat_locks SET status = 'EXPIRED', updated_at = $3
		WHERE item_type = $1 AND item_id = $2 AND status = 'ACTIVE' AND expires_at < $3
		RETURNING `+lockColumns, string(itemType), itemID, now)
}

func (r *Repository) ExpireDueLocks(ctx context.Context, now time.Time, limit int) ([]domain.SeatLock, error) {
	return r.collectLocks(ctx, `
		UPDATE seat_locks SET status = 'EXPIRED', updated_at = $1
		WHERE id IN (
			SELECT id FROM seat_locks
			WHERE status = 'ACTIVE' AND expires_at < $1
			ORDER BY expires_at
			LIMIT $2
		) AND status = 'ACTIVE'
		RETURNING `+lockColumns, now, limit)
}

func (r *Repository) collectLocks(ctx context.Context, sql string, args ...any) ([]domain.SeatLock, error) {
	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "expire locks")
	}
	defer rows.Close()

	var locks []domain.SeatLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan lock")
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

func scanLock(row pgx.Row) (domain.SeatLock, error) {
	var (
		lock       domain.SeatLock
		itemType   string
		status     string
		consumedBy *uuid.UUID
	)
	err := row.Scan(&lock.ID, &itemType, &lock.ItemID, &status, &lock.CreatedAt, &lock.ExpiresAt, &lock.UpdatedAt, &consumedBy)
	if err != nil {
		return domain.SeatLock{}, err
	}
	lock.ItemType = domain.ItemType(itemType)
	lock.Status = domain.LockStatus(status)
	lock.ConsumedByBookingID = consumedBy
	return lock, nil
}
