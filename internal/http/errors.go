package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/studiobook/seatlock/internal/domain"
	"github.com/studiobook/seatlock/internal/observability"
)

const (
	codeInvalidRequestBody  = "invalid_request_body"
	codeInvalidID           = "invalid_id"
	codeInvalidItemType     = "invalid_item_type"
	codeItemNotFound        = "item_not_found"
	codeNoSeatsAvailable    = "no_seats_available"
	codeLockNotFound        = "lock_not_found"
	codeLockExpired         = "lock_expired"
	codeLockReleased        = "lock_released"
	codeLockAlreadyConsumed = "lock_already_consumed"
	codeConflict            = "conflict"
	codeIdempotencyKey      = "invalid_idempotency_key"
	codeRateLimited         = "rate_limited"
	codeInternalError       = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeDomainError maps reservation errors to their HTTP form. Unknown
// errors are logged and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, log observability.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidItemType):
		writeError(w, http.StatusBadRequest, codeInvalidItemType, "itemType must be CLASS or EVENT")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
	case errors.Is(err, domain.ErrItemNotFound):
		writeError(w, http.StatusNotFound, codeItemNotFound, "item not found")
	case errors.Is(err, domain.ErrNoSeatsAvailable):
		writeError(w, http.StatusConflict, codeNoSeatsAvailable, "no seats left")
	case errors.Is(err, domain.ErrLockNotFound):
		writeError(w, http.StatusNotFound, codeLockNotFound, "lock not found")
	case errors.Is(err, domain.ErrLockExpired):
		writeError(w, http.StatusGone, codeLockExpired, "your hold expired, please try again")
	case errors.Is(err, domain.ErrLockReleased):
		writeError(w, http.StatusGone, codeLockReleased, "your hold was released, please try again")
	case errors.Is(err, domain.ErrLockAlreadyConsumed):
		writeError(w, http.StatusConflict, codeLockAlreadyConsumed, "this hold was already used for a booking")
	case errors.Is(err, domain.ErrSerializationFailure):
		writeError(w, http.StatusConflict, codeConflict, "conflict, try again")
	default:
		log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
