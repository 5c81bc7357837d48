// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 with TTL support. Sessions kept
// here die with the process; it backs tests and the "memory" store kind.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/paddock/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxItems bounds the cache when New is called with a non-positive size.
const DefaultMaxItems = 1024

// Storage implements storage.Storage using an LRU cache.
type Storage struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *storage.Item]
	stop   chan struct{}
	closed bool
}

// New creates a new in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	go s.cleanupExpired(5 * time.Minute)

	return s, nil
}

// Get retrieves data for a key within the selected profile.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Profile, key)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, storage.ErrClosed
	}
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.evictExpired(storageKey)
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// evictExpired removes storageKey if the entry it holds is still expired. A
// Set may have replaced it since the caller looked.
func (s *Storage) evictExpired(storageKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.cache.Peek(storageKey); ok && item.IsExpired() {
		s.cache.Remove(storageKey)
	}
}

// Set stores data for a key within the selected profile.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Profile, key)

	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	s.cache.Add(storageKey, item)
	return nil
}

// Delete removes one key (WithKey) or the whole profile.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Profile, *options.Key))
		return nil
	}

	prefix := profilePrefix(options.Profile)
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close purges the cache and stops the expiry sweeper.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)
	s.cache.Purge()
	return nil
}

// profilePrefix escapes the profile so that no profile's prefix is a prefix
// of another's.
func profilePrefix(profile string) string {
	return "profile:" + url.QueryEscape(profile) + ":"
}

func buildKey(profile, key string) string {
	return profilePrefix(profile) + "key:" + key
}

// cleanupExpired periodically evicts expired items until Close is called.
func (s *Storage) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, ok := s.cache.Peek(key); ok {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
