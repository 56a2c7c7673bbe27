package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
)

// Cache keeps short-lived availability snapshots. It is never consulted for
// admission decisions, only for the read-only availability endpoint.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger observability.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger observability.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var errStaleSnapshot = errors.New("availability snapshot is stale")

type availabilityEntry struct {
	Capacity    int `json:"capacity"`
	Confirmed   int `json:"confirmed"`
	ActiveLocks int `json:"activeLocks"`
}

func availabilityKey(itemType domain.ItemType, itemID string) string {
	return "avail:" + string(itemType) + ":" + itemID
}

func generationKey(itemType domain.ItemType, itemID string) string {
	return "avail:gen:" + string(itemType) + ":" + itemID
}

// AvailabilityGeneration returns the item's invalidation counter. Callers
// read it before computing a snapshot and hand it to SetAvailability.
func (c *Cache) AvailabilityGeneration(ctx context.Context, itemType domain.ItemType, itemID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(itemType, itemID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *Cache) GetAvailability(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.Availability, error) {
	val, err := c.client.Get(ctx, availabilityKey(itemType, itemID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e availabilityEntry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, err
	}
	return &domain.Availability{
		ItemType:    itemType,
		ItemID:      itemID,
		Capacity:    e.Capacity,
		Confirmed:   e.Confirmed,
		ActiveLocks: e.ActiveLocks,
	}, nil
}

// SetAvailability caches av only if no invalidation happened since gen was
// read, so a snapshot computed before a commit never outlives it.
func (c *Cache) SetAvailability(ctx context.Context, av domain.Availability, gen int64) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(availabilityEntry{Capacity: av.Capacity, Confirmed: av.Confirmed, ActiveLocks: av.ActiveLocks})
	if err != nil {
		return err
	}

	genKey := generationKey(av.ItemType, av.ItemID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, availabilityKey(av.ItemType, av.ItemID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStaleSnapshot) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateAvailability drops the snapshot and bumps the generation so an
// in-flight SetAvailability for the old state is discarded.
func (c *Cache) InvalidateAvailability(ctx context.Context, itemType domain.ItemType, itemID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(itemType, itemID))
		pipe.Del(ctx, availabilityKey(itemType, itemID))
		return nil
	})
	return err
}

// OnLockEvent drops the cached snapshot of the item whose lock changed.
func (c *Cache) OnLockEvent(ctx context.Context, ev domain.LockEvent) {
	if err := c.InvalidateAvailability(ctx, ev.Lock.ItemType, ev.Lock.ItemID); err != nil {
		c.logger.WithError(err).WithField("item_id", ev.Lock.ItemID).Warn("failed to invalidate availability cache")
	}
}
