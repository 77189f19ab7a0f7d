package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore backs idempotent replay with Redis so that replicas
// of the sidecar share one dedupe window.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisIdempotencyStore wraps an existing Redis client.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, prefix: "trust:idem:"}
}

// Check implements IdempotencyStorer. Redis errors are treated as a miss so
// the request is processed rather than dropped.
func (s *RedisIdempotencyStore) Check(key string) (*CachedResponse, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

// Set implements IdempotencyStorer.
func (s *RedisIdempotencyStore) Set(key string, statusCode int, headers http.Header, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(&CachedResponse{
		StatusCode: statusCode,
		Headers:    headers,
		Body:       body,
		CachedAt:   time.Now(),
	})
	if err != nil {
		return
	}
	_ = s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err()
}
