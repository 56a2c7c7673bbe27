package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/seatlock/internal/idempotency"
)

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, rate int, _ time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[key]++
	return l.counts[key] <= rate
}

type memIdempotency struct {
	mu      sync.Mutex
	entries map[string]idempotency.Response
}

func (m *memIdempotency) Get(_ context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *memIdempotency) Set(_ context.Context, key string, resp idempotency.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = resp
	return nil
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}}
	h := newTestRouter(&fakeLocks{}, nil, RouterOptions{Limiter: limiter, RatePerMinute: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/availability/lock/00000000-0000-0000-0000-000000000001", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/availability/lock/00000000-0000-0000-0000-000000000001", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, decodeError(t, rec).Code)

	// health checks are outside the limited group
	rec = do(t, h, http.MethodGet, "/v1/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}}
	h := newTestRouter(&fakeLocks{}, nil, RouterOptions{Limiter: limiter, RatePerMinute: 0})

	for i := 0; i < 5; i++ {
		rec := do(t, h, http.MethodGet, "/api/availability/lock/00000000-0000-0000-0000-000000000001", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, limiter.counts)
}

func postWithKey(h http.Handler, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	locks := &fakeLocks{}
	store := &memIdempotency{entries: map[string]idempotency.Response{}}
	h := newTestRouter(locks, nil, RouterOptions{Idempotency: store})
	key := "checkout-7f3a9c21e4b5"

	first := postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, key)
	require.Equal(t, http.StatusCreated, first.Code)

	second := postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, key)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Len(t, locks.acquired, 1)
}

func TestIdempotencyWithoutKey(t *testing.T) {
	locks := &fakeLocks{}
	store := &memIdempotency{entries: map[string]idempotency.Response{}}
	h := newTestRouter(locks, nil, RouterOptions{Idempotency: store})

	postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, "")
	postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, "")

	assert.Len(t, locks.acquired, 2)
	assert.Empty(t, store.entries)
}

func TestIdempotencyRejectsBadKey(t *testing.T) {
	h := newTestRouter(&fakeLocks{}, nil, RouterOptions{Idempotency: &memIdempotency{entries: map[string]idempotency.Response{}}})

	for _, key := range []string{"short", strings.Repeat("k", 129)} {
		rec := postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, key)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, codeIdempotencyKey, decodeError(t, rec).Code)
	}
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	locks := &fakeLocks{acquireErr: context.DeadlineExceeded}
	store := &memIdempotency{entries: map[string]idempotency.Response{}}
	h := newTestRouter(locks, nil, RouterOptions{Idempotency: store})
	key := "retry-after-failure-0001"

	rec := postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, key)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, store.entries)

	locks.acquireErr = nil
	rec = postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, key)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, locks.acquired, 2)
}

func TestIdempotencyKeysScopedByPath(t *testing.T) {
	locks := &fakeLocks{}
	store := &memIdempotency{entries: map[string]idempotency.Response{}}
	h := newTestRouter(locks, nil, RouterOptions{Idempotency: store})
	key := "shared-key-across-calls"

	postWithKey(h, "/api/availability/lock", `{"itemType":"CLASS","itemId":"yoga-1"}`, key)
	rec := postWithKey(h, "/api/availability/lock/00000000-0000-0000-0000-000000000002/consume", "", key)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get(replayedHeader))
	assert.Len(t, locks.consumed, 1)
	assert.Len(t, store.entries, 2)
}
