package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/studiobook/seatlock/internal/domain"
)

const itemColumns = `item_type, id, title, capacity, published`

func (r *Repository) GetItem(ctx context.Context, itemType domain.ItemType, itemID string) (domain.BookableItem, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM bookable_items WHERE item_type = $1 AND id = $2`, itemType, itemID)
}

func (r *Repository) GetItemForUpdate(ctx context.Context, itemType domain.ItemType, itemID string) (domain.BookableItem, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM bookable_items WHERE item_type = $1 AND id = $2 FOR UPDATE`, itemType, itemID)
}

func (r *Repository) getItem(ctx context.Context, sql string, itemType domain.ItemType, itemID string) (domain.BookableItem, error) {
	var (
		item domain.BookableItem
		typ  string
	)
	err := r.queryRow(ctx, sql, string(itemType), itemID).Scan(&typ, &item.ID, &item.Title, &item.Capacity, &item.Published)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BookableItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.BookableItem{}, errors.Wrap(err, "get item")
	}
	item.Type = domain.ItemType(typ)
	return item, nil
}

// UpsertItem writes the read model row. The CRUD layer owns items; this
// exists for seeding and tests.
func (r *Repository) UpsertItem(ctx context.Context, item domain.BookableItem) error {
	_, err := r.exec(ctx, `
		UPSERT INTO bookable_items (item_type, id, title, capacity, published)
		VALUES ($1, $2, $3, $4, $5)
	`, string(item.Type), item.ID, item.Title, item.Capacity, item.Published)
	return errors.Wrap(err, "upsert item")
}

func (r *Repository) CountConfirmedBookings(ctx context.Context, itemType domain.ItemType, itemID string) (int, error) {
	var n int
	err := r.queryRow(ctx, `
		SELECT count(*) FROM bookings
		WHERE item_type = $1 AND item_id = $2 AND status = 'CONFIRMED'
	`, string(itemType), itemID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count confirmed bookings")
	}
	return n, nil
}
