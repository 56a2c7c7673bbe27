package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "seatlock:idem:"

// ResponseStore keeps replayable HTTP responses keyed by Idempotency-Key.
type ResponseStore struct {
	client redis.Cmdable
}

func NewResponseStore(client redis.Cmdable) *ResponseStore {
	return &ResponseStore{client: client}
}

type IdempResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Result      []byte `json:"result"`
}

func (s *ResponseStore) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp IdempResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Set stores resp unless a response for key already exists; the first
// completed request wins.
func (s *ResponseStore) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, idempotencyPrefix+key, data, ttl).Err()
}
