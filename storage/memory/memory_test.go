package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/paddock/storage"
	"github.com/ggoodman/paddock/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := New(100)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		return s
	})
}

func TestNewDefaultsSize(t *testing.T) {
	s, err := New(0)
	if err != nil {
		t.Fatalf("New(0) failed: %v", err)
	}
	defer s.Close()
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	s, err := New(2)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Set(%s) failed: %v", k, err)
		}
	}
	item, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Fatal("expected oldest entry to be evicted")
	}
}

func TestClosedStorage(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}
	if err := s.Set(context.Background(), "k", []byte("v")); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEvictExpiredKeepsReplacement(t *testing.T) {
	s, err := New(10)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	key := buildKey(storage.DefaultProfile, "k")

	past := time.Now().Add(-time.Minute)
	s.cache.Add(key, &storage.Item{Data: []byte("old"), ExpiresAt: &past})

	// A Set that lands after Get saw the expired entry must survive eviction.
	if err := s.Set(ctx, "k", []byte("new")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	s.evictExpired(key)

	item, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil || string(item.Data) != "new" {
		t.Fatalf("replacement lost: %+v", item)
	}

	s.cache.Add(key, &storage.Item{Data: []byte("old"), ExpiresAt: &past})
	s.evictExpired(key)
	if _, ok := s.cache.Peek(key); ok {
		t.Fatal("expired entry was not evicted")
	}
}
