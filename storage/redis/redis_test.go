package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/paddock/storage"
	"github.com/ggoodman/paddock/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func newTestStorage(t *testing.T) (*Storage, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})})
	if err != nil {
		t.Fatalf("Failed to create Redis storage: %v", err)
	}
	return s, mr
}

func TestRedisStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, _ := newTestStorage(t)
		return s
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestKeyLayout(t *testing.T) {
	s, mr := newTestStorage(t)
	defer s.Close()

	if err := s.Set(context.Background(), "tc2000_token", []byte("tok"), storage.WithProfile("prod")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if !mr.Exists("paddock:storage:profile:prod:tc2000_token") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
}

func TestDial(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	s, err := Dial(context.Background(), mr.Addr(), "custom:")
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer s.Close()

	if err := s.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if !mr.Exists("custom:profile:default:k") {
		t.Fatalf("expected custom prefix, have %v", mr.Keys())
	}
}

func TestDialUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := Dial(context.Background(), addr, ""); err == nil {
		t.Fatal("expected error dialing a closed server")
	}
}
