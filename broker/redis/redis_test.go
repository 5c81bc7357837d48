package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/paddock/broker"
	"github.com/ggoodman/paddock/broker/brokertest"
	"github.com/redis/go-redis/v9"
)

func TestRedisBroker(t *testing.T) {
	brokertest.Run(t, func(t *testing.T) broker.Broker {
		mr := miniredis.RunT(t)
		b, err := New(Config{
			Client:    redis.NewClient(&redis.Options{Addr: mr.Addr()}),
			KeyPrefix: "test:broker:",
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return b
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestStreamKey(t *testing.T) {
	b, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if got := b.streamKey("events"); got != DefaultKeyPrefix+"stream:events" {
		t.Fatalf("streamKey = %q", got)
	}
}
