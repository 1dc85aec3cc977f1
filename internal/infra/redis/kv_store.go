package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KVStore implements app.KeyValueStore on Redis. Every write refreshes the key TTL so
// abandoned drafts eventually expire.
type KVStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewKVStore(client *redis.Client, ttl time.Duration) *KVStore {
	return &KVStore{client: client, ttl: ttl}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
