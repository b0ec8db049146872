package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 所有键统一加 mixstudio: 前缀
const (
	jobKey = "mixstudio:job:%s"
)

var errNoClient = errors.New("Redis client not initialized")

// Store is the byte-level cache used by the decorators in this package.
// Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.client == nil {
		return nil, errNoClient
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if s.client == nil {
		return errNoClient
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	if s.client == nil {
		return errNoClient
	}
	return s.client.Del(ctx, key).Err()
}
