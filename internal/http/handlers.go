package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/studiobook/seatlock/internal/adapters/mongo"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/studiobook/seatlock/internal/reservation"
)

const maxBodyBytes = 64 << 10

type LockManager interface {
	AcquireLock(ctx context.Context, itemType domain.ItemType, itemID string) (domain.SeatLock, error)
	ConsumeLock(ctx context.Context, in reservation.ConsumeInput) (domain.Booking, error)
	ReleaseLock(ctx context.Context, lockID uuid.UUID) (domain.SeatLock, error)
	GetLock(ctx context.Context, lockID uuid.UUID) (domain.SeatLock, error)
	Availability(ctx context.Context, itemType domain.ItemType, itemID string) (domain.Availability, error)
}

// AvailabilityCache stores advisory snapshots. A snapshot is only stored if
// the generation read before computing it is still current.
type AvailabilityCache interface {
	AvailabilityGeneration(ctx context.Context, itemType domain.ItemType, itemID string) (int64, error)
	GetAvailability(ctx context.Context, itemType domain.ItemType, itemID string) (*domain.Availability, error)
	SetAvailability(ctx context.Context, av domain.Availability, gen int64) error
}

// LockHistory reads the audit trail of a lock.
type LockHistory interface {
	History(ctx context.Context, lockID uuid.UUID) ([]mongoadapter.AuditLog, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	locks  LockManager
	cache  AvailabilityCache
	ready  []Pinger
	logger observability.Logger
}

func NewHandlers(locks LockManager, cache AvailabilityCache, logger observability.Logger, ready ...Pinger) *Handlers {
	return &Handlers{
		locks:  locks,
		cache:  cache,
		ready:  ready,
		logger: logger,
	}
}

type lockJSON struct {
	ID                  uuid.UUID  `json:"id"`
	ItemType            string     `json:"itemType"`
	ItemID              string     `json:"itemId"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"createdAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	ConsumedByBookingID *uuid.UUID `json:"consumedByBookingId,omitempty"`
}

func toLockJSON(l domain.SeatLock) lockJSON {
	return lockJSON{
		ID:                  l.ID,
		ItemType:            string(l.ItemType),
		ItemID:              l.ItemID,
		Status:              string(l.Status),
		CreatedAt:           l.CreatedAt,
		ExpiresAt:           l.ExpiresAt,
		ConsumedByBookingID: l.ConsumedByBookingID,
	}
}

type lockResponse struct {
	Lock lockJSON `json:"lock"`
}

type bookingJSON struct {
	ID         uuid.UUID `json:"id"`
	LockID     uuid.UUID `json:"lockId"`
	ItemType   string    `json:"itemType"`
	ItemID     string    `json:"itemId"`
	PaymentRef string    `json:"paymentRef,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

type bookingResponse struct {
	Booking bookingJSON `json:"booking"`
}

type availabilityResponse struct {
	ItemType    string `json:"itemType"`
	ItemID      string `json:"itemId"`
	Capacity    int    `json:"capacity"`
	Confirmed   int    `json:"confirmed"`
	ActiveLocks int    `json:"activeLocks"`
	Remaining   int    `json:"remaining"`
}

func (h *Handlers) AcquireLock(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), h.logger)

	var req struct {
		ItemType string `json:"itemType"`
		ItemID   string `json:"itemId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	itemType, err := domain.ParseItemType(req.ItemType)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "itemId is required")
		return
	}

	lock, err := h.locks.AcquireLock(r.Context(), itemType, req.ItemID)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	log.WithField("lock_id", lock.ID.String()).WithField("item_id", lock.ItemID).Info("seat lock acquired")
	writeJSON(w, http.StatusCreated, lockResponse{Lock: toLockJSON(lock)})
}

func (h *Handlers) GetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := lockIDParam(w, r)
	if !ok {
		return
	}
	lock, err := h.locks.GetLock(r.Context(), id)
	if err != nil {
		writeDomainError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Lock: toLockJSON(lock)})
}

func (h *Handlers) ConsumeLock(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), h.logger)

	id, ok := lockIDParam(w, r)
	if !ok {
		return
	}

	var req struct {
		BookingID  string `json:"bookingId"`
		PaymentRef string `json:"paymentRef"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}
	in := reservation.ConsumeInput{LockID: id, PaymentRef: req.PaymentRef}
	if req.BookingID != "" {
		bookingID, err := uuid.Parse(req.BookingID)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidID, "invalid bookingId")
			return
		}
		in.BookingID = bookingID
	}

	booking, err := h.locks.ConsumeLock(r.Context(), in)
	if err != nil {
		writeDomainError(w, log, err)
		return
	}

	log.WithField("lock_id", id.String()).WithField("booking_id", booking.ID.String()).Info("seat lock consumed")
	writeJSON(w, http.StatusCreated, bookingResponse{Booking: bookingJSON{
		ID:         booking.ID,
		LockID:     booking.LockID,
		ItemType:   string(booking.ItemType),
		ItemID:     booking.ItemID,
		PaymentRef: booking.PaymentRef,
		Status:     string(booking.Status),
		CreatedAt:  booking.CreatedAt,
	}})
}

func (h *Handlers) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	id, ok := lockIDParam(w, r)
	if !ok {
		return
	}
	lock, err := h.locks.ReleaseLock(r.Context(), id)
	if err != nil {
		writeDomainError(w, loggerFrom(r.Context(), h.logger), err)
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Lock: toLockJSON(lock)})
}

func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	log := loggerFrom(r.Context(), h.logger)

	itemType, err := domain.ParseItemType(chi.URLParam(r, "itemType"))
	if err != nil {
		writeDomainError(w, log, err)
		return
	}
	itemID := chi.URLParam(r, "itemId")

	var av *domain.Availability
	if h.cache != nil {
		if av, err = h.cache.GetAvailability(r.Context(), itemType, itemID); err != nil {
			log.WithError(err).Warn("availability cache read failed")
			av = nil
		}
	}
	if av == nil {
		cacheable := h.cache != nil
		var gen int64
		if cacheable {
			if gen, err = h.cache.AvailabilityGeneration(r.Context(), itemType, itemID); err != nil {
				log.WithError(err).Warn("availability cache read failed")
				cacheable = false
			}
		}
		fresh, err := h.locks.Availability(r.Context(), itemType, itemID)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}
		if cacheable {
			if err := h.cache.SetAvailability(r.Context(), fresh, gen); err != nil {
				log.WithError(err).Warn("availability cache write failed")
			}
		}
		av = &fresh
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		ItemType:    string(av.ItemType),
		ItemID:      av.ItemID,
		Capacity:    av.Capacity,
		Confirmed:   av.Confirmed,
		ActiveLocks: av.ActiveLocks,
		Remaining:   av.Remaining(),
	})
}

type historyEntry struct {
	EventID   string    `json:"eventId"`
	Action    string    `json:"action"`
	Status    string    `json:"status,omitempty"`
	BookingID string    `json:"bookingId,omitempty"`
	At        time.Time `json:"at"`
}

type historyResponse struct {
	LockID uuid.UUID      `json:"lockId"`
	Events []historyEntry `json:"events"`
}

// LockHistoryHandler serves the recorded transitions of a lock, oldest first.
func (h *Handlers) LockHistoryHandler(history LockHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := loggerFrom(r.Context(), h.logger)

		id, ok := lockIDParam(w, r)
		if !ok {
			return
		}
		if _, err := h.locks.GetLock(r.Context(), id); err != nil {
			writeDomainError(w, log, err)
			return
		}
		logs, err := history.History(r.Context(), id)
		if err != nil {
			writeDomainError(w, log, err)
			return
		}

		resp := historyResponse{LockID: id, Events: make([]historyEntry, 0, len(logs))}
		for _, l := range logs {
			e := historyEntry{EventID: l.ID, Action: l.Action, At: l.Timestamp}
			e.Status, _ = l.Data["status"].(string)
			e.BookingID, _ = l.Data["booking_id"].(string)
			resp.Events = append(resp.Events, e)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, p := range h.ready {
		if err := p.Ping(ctx); err != nil {
			loggerFrom(r.Context(), h.logger).WithError(err).Warn("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func lockIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidID, "invalid lock id")
		return uuid.Nil, false
	}
	return id, true
}
