package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger keeps an append-only trail of lock transitions.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("seat_lock_audit"),
		logger: logger,
	}
}

// OpenAuditLogger connects to uri and prepares the audit collection in
// database. An empty uri disables auditing and returns a nil logger. The
// returned func disconnects the client.
func OpenAuditLogger(ctx context.Context, uri, database string, logger observability.Logger) (*AuditLogger, func(), error) {
	if uri == "" {
		return nil, func() {}, nil
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect mongo")
	}
	disconnect := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}

	audit := NewAuditLogger(client.Database(database), logger)
	if err := audit.EnsureIndexes(ctx); err != nil {
		logger.WithError(err).Warn("failed to ensure audit indexes")
	}
	return audit, disconnect, nil
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	LockID    string    `bson:"lock_id"`
	ItemType  string    `bson:"item_type"`
	ItemID    string    `bson:"item_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// EnsureIndexes creates the lookup index used to reconstruct a lock's history.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "lock_id", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("lock_id_timestamp"),
	})
	return err
}

func (a *AuditLogger) LogLockEvent(ctx context.Context, ev domain.LockEvent) error {
	data := bson.M{
		"status":     string(ev.Lock.Status),
		"created_at": ev.Lock.CreatedAt,
		"expires_at": ev.Lock.ExpiresAt,
	}
	if ev.Lock.ConsumedByBookingID != nil {
		data["booking_id"] = ev.Lock.ConsumedByBookingID.String()
	}
	log := AuditLog{
		ID:        ev.ID.String(),
		Action:    string(ev.Type),
		LockID:    ev.Lock.ID.String(),
		ItemType:  string(ev.Lock.ItemType),
		ItemID:    ev.Lock.ItemID,
		Timestamp: ev.OccurredAt,
		Data:      data,
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("lock_id", log.LockID).Error("failed to insert audit log")
		return err
	}
	return nil
}

// OnLockEvent records the event; failures are logged and otherwise ignored.
func (a *AuditLogger) OnLockEvent(ctx context.Context, ev domain.LockEvent) {
	_ = a.LogLockEvent(ctx, ev)
}

func (a *AuditLogger) History(ctx context.Context, lockID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"lock_id": lockID.String()}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
