package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisadapter "github.com/studiobook/seatlock/internal/adapters/redis"
)

type memStore struct {
	entries map[string]redisadapter.IdempResponse
	ttls    map[string]time.Duration
	err     error
}

func (m *memStore) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	resp, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &resp, nil
}

func (m *memStore) Set(_ context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error {
	m.entries[key] = resp
	m.ttls[key] = ttl
	return nil
}

func TestIdempotency_SetThenGet(t *testing.T) {
	store := &memStore{entries: map[string]redisadapter.IdempResponse{}, ttls: map[string]time.Duration{}}
	idemp := NewIdempotency(store, 24*time.Hour)
	ctx := context.Background()

	got, err := idemp.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, idemp.Set(ctx, "k", Response{Status: 201, ContentType: "application/json", Result: []byte(`{}`)}))
	assert.Equal(t, 24*time.Hour, store.ttls["k"])

	got, err = idemp.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, &Response{Status: 201, ContentType: "application/json", Result: []byte(`{}`)}, got)
}

func TestIdempotency_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	idemp := NewIdempotency(&memStore{err: boom}, time.Hour)

	got, err := idemp.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, got)
}
