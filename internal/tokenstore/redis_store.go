package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps credential entries in Redis, optionally under a key prefix.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore parses a redis:// or rediss:// URL. The key_prefix query parameter, when present,
// is prepended to every key and removed before the URL reaches the client.
func NewRedisStore(rawURL string) (*RedisStore, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("token_store.parse_url: %w", err)
	}
	query := parsed.Query()
	keyPrefix := query.Get("key_prefix")
	query.Del("key_prefix")
	parsed.RawQuery = query.Encode()

	options, optionsErr := redis.ParseURL(parsed.String())
	if optionsErr != nil {
		return nil, fmt.Errorf("token_store.open.redis: %w", optionsErr)
	}
	return &RedisStore{
		client:    redis.NewClient(options),
		keyPrefix: keyPrefix,
	}, nil
}

// Driver identifies the backend.
func (store *RedisStore) Driver() string {
	return "redis"
}

// KeyPrefix returns the prefix applied to every key.
func (store *RedisStore) KeyPrefix() string {
	return store.keyPrefix
}

// Get loads the entry stored under key.
func (store *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("token_store.get.redis: %w", ErrEmptyKey)
	}
	value, err := store.client.Get(ctx, store.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("token_store.get.redis: %w", err)
	}
	return value, true, nil
}

// Set stores value under key without expiry; the identity provider replaces entries on refresh.
func (store *RedisStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("token_store.set.redis: %w", ErrEmptyKey)
	}
	if err := store.client.Set(ctx, store.keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("token_store.set.redis: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are ignored.
func (store *RedisStore) Delete(ctx context.Context, key string) error {
	if err := store.client.Del(ctx, store.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("token_store.delete.redis: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (store *RedisStore) Close() error {
	return store.client.Close()
}
