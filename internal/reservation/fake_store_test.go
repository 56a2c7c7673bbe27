package reservation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/studiobook/seatlock/internal/domain"
)

// fakeStore is an in-memory Store. WithTx serializes transactions and
// restores a snapshot when fn fails, which is enough to model SERIALIZABLE.
type fakeStore struct {
	mu sync.Mutex

	items    map[string]domain.BookableItem
	locks    map[uuid.UUID]domain.SeatLock
	bookings map[uuid.UUID]domain.Booking
	outbox   []domain.LockEvent

	// conflicts makes the next N transactions fail with a serialization error.
	conflicts int
	txCount   int
}

func newFakeStore(items ...domain.BookableItem) *fakeStore {
	s := &fakeStore{
		items:    make(map[string]domain.BookableItem),
		locks:    make(map[uuid.UUID]domain.SeatLock),
		bookings: make(map[uuid.UUID]domain.Booking),
	}
	for _, it := range items {
		s.items[itemKey(it.Type, it.ID)] = it
	}
	return s
}

func itemKey(t domain.ItemType, id string) string {
	return string(t) + "/" + id
}

type fakeTxKey struct{}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	if s.conflicts > 0 {
		s.conflicts--
		return domain.ErrSerializationFailure
	}

	locks := make(map[uuid.UUID]domain.SeatLock, len(s.locks))
	for k, v := range s.locks {
		locks[k] = v
	}
	bookings := make(map[uuid.UUID]domain.Booking, len(s.bookings))
	for k, v := range s.bookings {
		bookings[k] = v
	}
	outboxLen := len(s.outbox)

	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		s.locks = locks
		s.bookings = bookings
		s.outbox = s.outbox[:outboxLen]
		return err
	}
	return nil
}

func (s *fakeStore) GetItem(_ context.Context, t domain.ItemType, id string) (domain.BookableItem, error) {
	it, ok := s.items[itemKey(t, id)]
	if !ok {
		return domain.BookableItem{}, domain.ErrItemNotFound
	}
	return it, nil
}

func (s *fakeStore) GetItemForUpdate(ctx context.Context, t domain.ItemType, id string) (domain.BookableItem, error) {
	return s.GetItem(ctx, t, id)
}

func (s *fakeStore) CountConfirmedBookings(_ context.Context, t domain.ItemType, id string) (int, error) {
	n := 0
	for _, b := range s.bookings {
		if b.ItemType == t && b.ItemID == id && b.Status == domain.BookingStatusConfirmed {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ExpireItemLocks(_ context.Context, t domain.ItemType, id string, now time.Time) ([]domain.SeatLock, error) {
	var out []domain.SeatLock
	for k, l := range s.locks {
		if l.ItemType != t || l.ItemID != id {
			continue
		}
		if l.Expire(now) {
			s.locks[k] = l
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) CountLiveLocks(_ context.Context, t domain.ItemType, id string, now time.Time) (int, error) {
	n := 0
	for _, l := range s.locks {
		if l.ItemType == t && l.ItemID == id && l.Live(now) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertLock(_ context.Context, lock domain.SeatLock) error {
	s.locks[lock.ID] = lock
	return nil
}

func (s *fakeStore) GetLock(_ context.Context, id uuid.UUID) (domain.SeatLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		return domain.SeatLock{}, domain.ErrLockNotFound
	}
	return l, nil
}

func (s *fakeStore) GetLockForUpdate(_ context.Context, id uuid.UUID) (domain.SeatLock, error) {
	l, ok := s.locks[id]
	if !ok {
		return domain.SeatLock{}, domain.ErrLockNotFound
	}
	return l, nil
}

func (s *fakeStore) UpdateLock(_ context.Context, lock domain.SeatLock) error {
	if _, ok := s.locks[lock.ID]; !ok {
		return domain.ErrLockNotFound
	}
	s.locks[lock.ID] = lock
	return nil
}

func (s *fakeStore) ExpireDueLocks(_ context.Context, now time.Time, limit int) ([]domain.SeatLock, error) {
	ids := make([]uuid.UUID, 0, len(s.locks))
	for id := range s.locks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.locks[ids[i]].ExpiresAt.Before(s.locks[ids[j]].ExpiresAt)
	})

	var out []domain.SeatLock
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		l := s.locks[id]
		if l.Expire(now) {
			s.locks[id] = l
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertBooking(_ context.Context, b domain.Booking) error {
	for _, existing := range s.bookings {
		if existing.LockID == b.LockID {
			return domain.ErrLockAlreadyConsumed
		}
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *fakeStore) GetBookingByLock(_ context.Context, lockID uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.LockID == lockID {
			return b, nil
		}
	}
	return domain.Booking{}, domain.ErrBookingNotFound
}

func (s *fakeStore) AppendEvents(_ context.Context, events []domain.LockEvent) error {
	s.outbox = append(s.outbox, events...)
	return nil
}

func (s *fakeStore) addBookings(t domain.ItemType, id string, n int) {
	for i := 0; i < n; i++ {
		b := domain.Booking{ID: uuid.New(), ItemType: t, ItemID: id, LockID: uuid.New(), Status: domain.BookingStatusConfirmed}
		s.bookings[b.ID] = b
	}
}

func (s *fakeStore) eventTypes() []domain.LockEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LockEventType, 0, len(s.outbox))
	for _, ev := range s.outbox {
		out = append(out, ev.Type)
	}
	return out
}

type recordingListener struct {
	mu     sync.Mutex
	events []domain.LockEvent
}

func (r *recordingListener) OnLockEvent(_ context.Context, ev domain.LockEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}
