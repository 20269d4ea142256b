package prefs

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each client's preferences in a Redis hash.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore. A zero ttl keeps entries forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "closeflow:prefs"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the stored value.
func (s *RedisStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.redisKey(namespace), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Set stores a value and refreshes the namespace expiry.
func (s *RedisStore) Set(ctx context.Context, namespace, key, value string) error {
	rk := s.redisKey(namespace)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, rk, key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, rk, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a value.
func (s *RedisStore) Delete(ctx context.Context, namespace, key string) error {
	err := s.client.HDel(ctx, s.redisKey(namespace), key).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (s *RedisStore) redisKey(namespace string) string {
	return s.prefix + ":" + namespace
}
