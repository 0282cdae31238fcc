package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisSourceName = "redis"

// RedisSource reads the payload from a single string key.
type RedisSource struct {
	client redis.Cmdable
	key    string
}

func NewRedisSource(client redis.Cmdable, key string) *RedisSource {
	return &RedisSource{
		client,
		key,
	}
}

func (s *RedisSource) Fetch(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", NewFetchError(redisSourceName, fmt.Errorf("key %q not found", s.key))
	}
	if err != nil {
		return "", NewFetchError(redisSourceName, err)
	}

	return value, nil
}
