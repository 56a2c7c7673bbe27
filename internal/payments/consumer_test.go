package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
	"github.com/studiobook/seatlock/internal/reservation"
)

type fakeLocks struct {
	got   reservation.ConsumeInput
	err   error
	prior *domain.Booking
}

func (f *fakeLocks) BookingForLock(_ context.Context, lockID uuid.UUID) (domain.Booking, error) {
	if f.prior == nil || f.prior.LockID != lockID {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return *f.prior, nil
}

func (f *fakeLocks) ConsumeLock(_ context.Context, in reservation.ConsumeInput) (domain.Booking, error) {
	f.got = in
	if f.err != nil {
		return domain.Booking{}, f.err
	}
	return domain.Booking{ID: in.BookingID, LockID: in.LockID, PaymentRef: in.PaymentRef}, nil
}

func TestHandler_Handle(t *testing.T) {
	lockID := uuid.New()
	bookingID := uuid.New()
	locks := &fakeLocks{}
	h := NewHandler(locks, observability.NewNopLogger())

	body := []byte(`{"lockId":"` + lockID.String() + `","bookingId":"` + bookingID.String() + `","paymentRef":"PAYPAL-9"}`)
	booking, err := h.Handle(context.Background(), body)
	require.NoError(t, err)

	assert.Equal(t, lockID, locks.got.LockID)
	assert.Equal(t, bookingID, locks.got.BookingID)
	assert.Equal(t, "PAYPAL-9", booking.PaymentRef)
}

func TestHandler_HandleRedelivery(t *testing.T) {
	lockID := uuid.New()
	bookingID := uuid.New()
	prior := &domain.Booking{ID: bookingID, LockID: lockID, PaymentRef: "PAYPAL-9", Status: domain.BookingStatusConfirmed}

	tests := []struct {
		name    string
		body    string
		prior   *domain.Booking
		wantErr error
	}{
		{
			name:  "same payment and booking",
			body:  `{"lockId":"` + lockID.String() + `","bookingId":"` + bookingID.String() + `","paymentRef":"PAYPAL-9"}`,
			prior: prior,
		},
		{
			name:  "same payment without booking id",
			body:  `{"lockId":"` + lockID.String() + `","paymentRef":"PAYPAL-9"}`,
			prior: prior,
		},
		{
			name:    "different payment",
			body:    `{"lockId":"` + lockID.String() + `","paymentRef":"PAYPAL-10"}`,
			prior:   prior,
			wantErr: domain.ErrLockAlreadyConsumed,
		},
		{
			name:    "different booking id",
			body:    `{"lockId":"` + lockID.String() + `","bookingId":"` + uuid.NewString() + `","paymentRef":"PAYPAL-9"}`,
			prior:   prior,
			wantErr: domain.ErrLockAlreadyConsumed,
		},
		{
			name:    "booking missing",
			body:    `{"lockId":"` + lockID.String() + `","paymentRef":"PAYPAL-9"}`,
			wantErr: domain.ErrLockAlreadyConsumed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locks := &fakeLocks{err: domain.ErrLockAlreadyConsumed, prior: tt.prior}
			h := NewHandler(locks, observability.NewNopLogger())

			booking, err := h.Handle(context.Background(), []byte(tt.body))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, bookingID, booking.ID)

			ack, requeue := Settle(err)
			assert.True(t, ack)
			assert.False(t, requeue)
		})
	}
}

func TestHandler_HandleMalformed(t *testing.T) {
	h := NewHandler(&fakeLocks{}, observability.NewNopLogger())

	for _, body := range []string{
		`not json`,
		`{"lockId":"nope"}`,
		`{"lockId":"` + uuid.NewString() + `","bookingId":"bad"}`,
	} {
		_, err := h.Handle(context.Background(), []byte(body))
		assert.ErrorIs(t, err, ErrMalformed, body)
	}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantAck     bool
		wantRequeue bool
	}{
		{"success", nil, true, false},
		{"expired lock", domain.ErrLockExpired, true, false},
		{"double delivery", domain.ErrLockAlreadyConsumed, true, false},
		{"released", domain.ErrLockReleased, true, false},
		{"unknown lock", domain.ErrLockNotFound, true, false},
		{"conflict", domain.ErrSerializationFailure, false, true},
		{"db down", errors.New("connection refused"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, requeue := Settle(tt.err)
			assert.Equal(t, tt.wantAck, ack)
			assert.Equal(t, tt.wantRequeue, requeue)
		})
	}
}
