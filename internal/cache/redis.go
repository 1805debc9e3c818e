package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStatePrefix namespaces state keys in a shared Redis.
const DefaultStatePrefix = "auth:oauth:state:"

// RedisStateStore provides Redis-based state storage for OAuth flows.
type RedisStateStore struct {
	client redis.Cmdable
	prefix string        // Key prefix, e.g., "auth:oauth:state:"
	ttl    time.Duration // Expiration time for state keys
}

var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore creates a new RedisStateStore.
// Parameters:
//   - client: Redis client instance
//   - prefix: key prefix for namespacing (DefaultStatePrefix when empty)
//   - ttl: time-to-live for state keys (10 minutes is typical)
func NewRedisStateStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStateStore {
	if prefix == "" {
		prefix = DefaultStatePrefix
	}
	return &RedisStateStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Save stores the state with the configured TTL.
func (s *RedisStateStore) Save(ctx context.Context, state string) error {
	if state == "" {
		return ErrEmptyState
	}

	if err := s.client.Set(ctx, s.prefix+state, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: storing state in redis: %w", err)
	}
	return nil
}

// Consume uses GETDEL so that the read and the delete are one atomic step;
// two callbacks racing on the same state cannot both succeed.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}

	err := s.client.GetDel(ctx, s.prefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: consuming state from redis: %w", err)
	}
	return true, nil
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: connecting to redis: %w", err)
	}
	return client, nil
}
