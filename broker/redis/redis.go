// Package redis provides a broker.Broker on Redis Streams so several fake
// backend processes can share one event feed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ggoodman/paddock/broker"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "paddock:broker:"

var streamID = regexp.MustCompile(`^\d+(-\d+)?$`)

// Broker is a Redis Streams implementation of broker.Broker.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// Config configures a Broker.
type Config struct {
	// Client is required.
	Client redis.UniversalClient
	// KeyPrefix is prepended to every stream key.
	KeyPrefix string
	// MaxLen approximately caps each stream; zero keeps everything.
	MaxLen int64
}

// New returns a Broker using cfg.Client.
func New(cfg Config) (*Broker, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis broker: client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Broker{client: cfg.Client, keyPrefix: prefix, maxLen: cfg.MaxLen}, nil
}

// Close closes the underlying client.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish implements broker.Broker using XADD; the stream entry ID is the
// event ID.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: b.streamKey(topic),
		Values: map[string]any{"data": data},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", args.Stream, err)
	}
	return id, nil
}

// Subscribe implements broker.Broker with a blocking XREAD loop.
func (b *Broker) Subscribe(ctx context.Context, topic string, lastEventID string, handler broker.Handler) error {
	key := b.streamKey(topic)

	start := lastEventID
	if start == "" {
		// Pin the current tail; re-reading from "$" skips events published
		// between reads.
		tail, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read tail of %s: %w", key, err)
		}
		start = "0-0"
		if len(tail) > 0 {
			start = tail[0].ID
		}
	} else if !streamID.MatchString(start) {
		return fmt.Errorf("%w: %q", broker.ErrUnknownEventID, lastEventID)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, start},
			Count:   16,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read from %s: %w", key, err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				start = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				if err := handler(ctx, broker.Envelope{ID: msg.ID, Data: []byte(data)}); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup implements broker.Broker by deleting the stream.
func (b *Broker) Cleanup(ctx context.Context, topic string) error {
	if err := b.client.Del(ctx, b.streamKey(topic)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cleanup %s: %w", topic, err)
	}
	return nil
}

func (b *Broker) streamKey(topic string) string {
	return b.keyPrefix + "stream:" + topic
}

var _ broker.Broker = (*Broker)(nil)
