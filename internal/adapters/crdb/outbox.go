package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/studiobook/seatlock/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

// LockEventPayload is the JSON body of a lock event on the outbox and on
// the wire.
type LockEventPayload struct {
	EventID             uuid.UUID  `json:"eventId"`
	Type                string     `json:"type"`
	LockID              uuid.UUID  `json:"lockId"`
	ItemType            string     `json:"itemType"`
	ItemID              string     `json:"itemId"`
	Status              string     `json:"status"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	ConsumedByBookingID *uuid.UUID `json:"consumedByBookingId,omitempty"`
	OccurredAt          time.Time  `json:"occurredAt"`
}

func NewLockEventPayload(ev domain.LockEvent) LockEventPayload {
	return LockEventPayload{
		EventID:             ev.ID,
		Type:                string(ev.Type),
		LockID:              ev.Lock.ID,
		ItemType:            string(ev.Lock.ItemType),
		ItemID:              ev.Lock.ItemID,
		Status:              string(ev.Lock.Status),
		ExpiresAt:           ev.Lock.ExpiresAt,
		ConsumedByBookingID: ev.Lock.ConsumedByBookingID,
		OccurredAt:          ev.OccurredAt,
	}
}

// AppendEvents writes lock events to the outbox. It must run inside the
// transaction that produced them.
func (r *Repository) AppendEvents(ctx context.Context, events []domain.LockEvent) error {
	for _, ev := range events {
		payload, err := json.Marshal(NewLockEventPayload(ev))
		if err != nil {
			return errors.Wrap(err, "marshal lock event")
		}
		err = r.InsertOutbox(ctx, OutboxRecord{
			ID:            ev.ID,
			AggregateType: "seat_lock",
			AggregateID:   ev.Lock.ID,
			EventType:     string(ev.Type),
			Payload:       payload,
			DedupeKey:     ev.ID.String(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) InsertOutbox(ctx context.Context, record OutboxRecord) error {
	_, err := r.exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, string(record.Payload), record.DedupeKey)
	return errors.Wrap(err, "insert outbox")
}

// ClaimOutbox locks up to limit unpublished records. Concurrent publishers
// skip rows another transaction already holds.
func (r *Repository) ClaimOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json::STRING, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox")
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var (
			rec     OutboxRecord
			payload string
		)
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return errors.Wrap(err, "mark published")
}
