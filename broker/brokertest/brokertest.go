// Package brokertest holds the conformance suite every broker.Broker
// implementation runs.
package brokertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/paddock/broker"
)

// Factory creates a fresh broker for one subtest.
type Factory func(t *testing.T) broker.Broker

// Run runs the complete broker suite against factory.
func Run(t *testing.T, factory Factory) {
	t.Run("PublishAndSubscribe", func(t *testing.T) { testPublishAndSubscribe(t, factory) })
	t.Run("ResumeFromLastEventID", func(t *testing.T) { testResume(t, factory) })
	t.Run("MultipleSubscribers", func(t *testing.T) { testMultipleSubscribers(t, factory) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("ContextCancellation", func(t *testing.T) { testContextCancellation(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerError(t, factory) })
	t.Run("Cleanup", func(t *testing.T) { testCleanup(t, factory) })
	t.Run("UnknownEventID", func(t *testing.T) { testUnknownEventID(t, factory) })
}

// collector gathers delivered envelopes and cancels once it has want of them.
type collector struct {
	mu     sync.Mutex
	got    []broker.Envelope
	want   int
	cancel context.CancelFunc
}

func (c *collector) handle(ctx context.Context, env broker.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, env)
	if c.cancel != nil && len(c.got) >= c.want {
		c.cancel()
	}
	return nil
}

func (c *collector) envelopes() []broker.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broker.Envelope(nil), c.got...)
}

func subscribe(ctx context.Context, b broker.Broker, topic, last string, h broker.Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, topic, last, h) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not finish in time")
		return nil
	}
}

func testPublishAndSubscribe(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "events")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := &collector{want: 1, cancel: cancel}
	done := subscribe(ctx, b, "events", "", c.handle)
	time.Sleep(100 * time.Millisecond)

	id, err := b.Publish(ctx, "events", []byte(`{"type":"team_created"}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty event ID")
	}

	if err := wait(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe returned %v", err)
	}
	got := c.envelopes()
	if len(got) != 1 || got[0].ID != id || string(got[0].Data) != `{"type":"team_created"}` {
		t.Fatalf("unexpected delivery %+v", got)
	}
}

func testResume(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "resume")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, err := b.Publish(ctx, "resume", []byte(`1`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second, err := b.Publish(ctx, "resume", []byte(`2`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	third, err := b.Publish(ctx, "resume", []byte(`3`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	c := &collector{want: 2, cancel: cancel}
	if err := wait(t, subscribe(ctx, b, "resume", first, c.handle)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe returned %v", err)
	}
	got := c.envelopes()
	if len(got) != 2 || got[0].ID != second || got[1].ID != third {
		t.Fatalf("resume delivered %+v, want %s then %s", got, second, third)
	}
}

func testMultipleSubscribers(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "fanout")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, c2 := &collector{}, &collector{}
	d1 := subscribe(ctx, b, "fanout", "", c1.handle)
	d2 := subscribe(ctx, b, "fanout", "", c2.handle)
	time.Sleep(100 * time.Millisecond)

	id, err := b.Publish(ctx, "fanout", []byte(`{}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	cancel()
	wait(t, d1)
	wait(t, d2)

	for i, c := range []*collector{c1, c2} {
		got := c.envelopes()
		if len(got) != 1 || got[0].ID != id {
			t.Fatalf("subscriber %d got %+v", i+1, got)
		}
	}
}

func testTopicIsolation(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "teams", "pilots")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	teams, pilots := &collector{}, &collector{}
	d1 := subscribe(ctx, b, "teams", "", teams.handle)
	d2 := subscribe(ctx, b, "pilots", "", pilots.handle)
	time.Sleep(100 * time.Millisecond)

	if _, err := b.Publish(ctx, "teams", []byte(`"t"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(ctx, "pilots", []byte(`"p"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	cancel()
	wait(t, d1)
	wait(t, d2)

	if got := teams.envelopes(); len(got) != 1 || string(got[0].Data) != `"t"` {
		t.Fatalf("teams subscriber got %+v", got)
	}
	if got := pilots.envelopes(); len(got) != 1 || string(got[0].Data) != `"p"` {
		t.Fatalf("pilots subscriber got %+v", got)
	}
}

func testContextCancellation(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "idle")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := wait(t, subscribe(ctx, b, "idle", "", func(context.Context, broker.Envelope) error { return nil }))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func testHandlerError(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "failing")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	boom := errors.New("handler error")
	done := subscribe(ctx, b, "failing", "", func(context.Context, broker.Envelope) error { return boom })
	time.Sleep(100 * time.Millisecond)

	if _, err := b.Publish(ctx, "failing", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := wait(t, done); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func testCleanup(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "dropped")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := b.Publish(ctx, "dropped", []byte(`{}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := b.Publish(ctx, "dropped", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Cleanup(ctx, "dropped"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	subCtx, subCancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer subCancel()
	err = b.Subscribe(subCtx, "dropped", id, func(context.Context, broker.Envelope) error {
		return errors.New("received an event after cleanup")
	})
	// Implementations either reject the stale ID or simply see no events.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, broker.ErrUnknownEventID) {
		t.Fatalf("Subscribe after cleanup: %v", err)
	}
}

func testUnknownEventID(t *testing.T, factory Factory) {
	b := factory(t)
	defer cleanup(t, b, "unknown")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := b.Subscribe(ctx, "unknown", "not-an-id", func(context.Context, broker.Envelope) error { return nil })
	if !errors.Is(err, broker.ErrUnknownEventID) {
		t.Fatalf("expected ErrUnknownEventID, got %v", err)
	}
}

func cleanup(t *testing.T, b broker.Broker, topics ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, topic := range topics {
		if err := b.Cleanup(ctx, topic); err != nil {
			t.Logf("cleanup %s: %v", topic, err)
		}
	}
	if closer, ok := b.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			t.Logf("close broker: %v", err)
		}
	}
}
