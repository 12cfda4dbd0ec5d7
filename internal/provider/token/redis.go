package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "credsync:token:"

// RedisStore shares provider tokens across service instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed token store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get cached token: %w", err)
	}
	return val, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, token, ttl).Err(); err != nil {
		return fmt.Errorf("cache token: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("evict cached token: %w", err)
	}
	return nil
}
