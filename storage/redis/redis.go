// Package redis provides a Redis-backed implementation of storage.Storage.
// It suits deployments where several processes (or machines) share one
// session, e.g. a kiosk fleet logged in as the same operator.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ggoodman/paddock/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "paddock:storage:"
	KeyPrefix string
}

// Storage implements storage.Storage using Redis.
type Storage struct {
	client    *redis.Client
	keyPrefix string
}

// storedItem is the JSON envelope written to Redis.
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "paddock:storage:"
	}
	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Dial connects to addr, verifies the connection with PING and returns a
// Storage owning the client.
func Dial(ctx context.Context, addr, keyPrefix string) (*Storage, error) {
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: cl, KeyPrefix: keyPrefix})
}

// Get retrieves data for a key within the selected profile.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Profile, key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	out := &storage.Item{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}
	if out.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}
	return out, nil
}

// Set stores data for a key within the selected profile.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Profile, key)

	now := time.Now()
	item := storedItem{
		Data:      data,
		CreatedAt: now,
	}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, itemData, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}
	return nil
}

// Delete removes one key (WithKey) or every key in the profile.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	if options.Key != nil {
		redisKey := s.buildKey(options.Profile, *options.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.keyPrefix + "profile:" + url.QueryEscape(options.Profile) + ":*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}
	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// buildKey escapes profile and key, which also keeps glob characters out of
// SCAN patterns built from a profile.
func (s *Storage) buildKey(profile, key string) string {
	return s.keyPrefix + "profile:" + url.QueryEscape(profile) + ":" + key
}

// scanKeys uses SCAN to find all keys matching a pattern.
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

var _ storage.Storage = (*Storage)(nil)
