// Package memory provides an in-process broker.Broker. Events are retained in
// memory so subscribers can resume from a previous event ID; it serves a
// single process only.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/paddock/broker"
)

// DefaultRetain bounds how many events each topic keeps for resumption.
const DefaultRetain = 256

// Broker implements broker.Broker with channels.
type Broker struct {
	mu      sync.Mutex
	topics  map[string]*topic
	counter atomic.Int64
	retain  int
}

type topic struct {
	mu     sync.Mutex
	events []broker.Envelope
	subs   map[*subscription]struct{}
}

type subscription struct {
	ch   chan broker.Envelope
	done chan struct{}
}

// New returns an empty broker that keeps the last retain events per topic
// (DefaultRetain when retain <= 0).
func New(retain int) *Broker {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Broker{topics: make(map[string]*topic), retain: retain}
}

func (b *Broker) topic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{subs: make(map[*subscription]struct{})}
		b.topics[name] = t
	}
	return t
}

// Publish implements broker.Broker.
func (b *Broker) Publish(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	env := broker.Envelope{
		ID:   strconv.FormatInt(b.counter.Add(1), 10),
		Data: append([]byte(nil), data...),
	}

	t := b.topic(name)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.events = append(t.events, env)
	if over := len(t.events) - b.retain; over > 0 {
		t.events = append(t.events[:0:0], t.events[over:]...)
	}

	for sub := range t.subs {
		select {
		case sub.ch <- env:
		case <-sub.done:
		default:
			// Slow subscriber; it will miss this event rather than stall
			// the publisher.
		}
	}
	return env.ID, nil
}

// Subscribe implements broker.Broker.
func (b *Broker) Subscribe(ctx context.Context, name string, lastEventID string, handler broker.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := b.topic(name)
	sub := &subscription{ch: make(chan broker.Envelope, 100), done: make(chan struct{})}

	t.mu.Lock()
	var backlog []broker.Envelope
	if lastEventID != "" {
		idx := -1
		for i, env := range t.events {
			if env.ID == lastEventID {
				idx = i
				break
			}
		}
		if idx < 0 {
			t.mu.Unlock()
			return fmt.Errorf("%w: %q", broker.ErrUnknownEventID, lastEventID)
		}
		backlog = append(backlog, t.events[idx+1:]...)
	}
	t.subs[sub] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
		close(sub.done)
	}()

	for _, env := range backlog {
		if err := handler(ctx, env); err != nil {
			return err
		}
	}

	for {
		select {
		case env := <-sub.ch:
			if err := handler(ctx, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cleanup implements broker.Broker. Live subscribers stay attached and
// receive events published afterwards.
func (b *Broker) Cleanup(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	t, ok := b.topics[name]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
	return nil
}

var _ broker.Broker = (*Broker)(nil)
