// Package realtime follows the backend's server-sent event stream. A
// Subscriber reconnects forever under a swappable ReconnectPolicy, resumes
// with Last-Event-ID and hands decoded events to a Handler.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/paddock/internal/logctx"
	"github.com/google/uuid"
)

var eventStreamMediaType = contenttype.NewMediaType("text/event-stream")

// ErrBadStream is returned for a response that is not an event stream.
var ErrBadStream = errors.New("realtime: response is not an event stream")

// Handler receives decoded events in arrival order.
type Handler func(ctx context.Context, ev Event)

// State is a connection state reported to a StatusFunc.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateError      State = "error"
)

// Status describes a connection state change. Err is set for StateError and
// Delay is the wait before the next attempt.
type Status struct {
	State   State
	Attempt int
	Err     error
	Delay   time.Duration
}

// StatusFunc observes connection state changes.
type StatusFunc func(Status)

// Subscriber follows one event stream URL.
type Subscriber struct {
	url    string
	http   *http.Client
	policy ReconnectPolicy
	status StatusFunc
	log    *slog.Logger

	mu     sync.Mutex
	lastID string
	retry  time.Duration
}

// Option customizes a Subscriber.
type Option func(*Subscriber)

// WithHTTPClient replaces the default client. Streams are long lived, so the
// client should not set Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Subscriber) {
		if hc != nil {
			s.http = hc
		}
	}
}

// WithPolicy replaces the default Fixed{DefaultRetryDelay} policy.
func WithPolicy(p ReconnectPolicy) Option {
	return func(s *Subscriber) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithStatus registers a connection state observer.
func WithStatus(fn StatusFunc) Option {
	return func(s *Subscriber) { s.status = fn }
}

// WithLastEventID resumes from a previously seen event.
func WithLastEventID(id string) Option {
	return func(s *Subscriber) { s.lastID = id }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSubscriber returns a Subscriber for the stream at url.
func NewSubscriber(url string, opts ...Option) *Subscriber {
	s := &Subscriber{
		url:    url,
		http:   &http.Client{},
		policy: Fixed{Delay: DefaultRetryDelay},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logctx.Wrap(s.log)
	return s
}

// LastEventID returns the ID of the last event received.
func (s *Subscriber) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Run connects and dispatches events to h until ctx is done, reconnecting
// after every failure or server close. It always returns ctx.Err().
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	// failures counts consecutive attempts since the last opened stream; the
	// policy is indexed by it.
	failures := 0
	for {
		s.report(Status{State: StateConnecting, Attempt: failures + 1})

		opened, err := s.connect(ctx, failures+1, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opened {
			failures = 0
		}
		failures++
		if err == nil {
			err = errors.New("stream closed by server")
		}

		delay := s.delay(failures)
		sctx := logctx.WithStreamData(ctx, &logctx.StreamData{URL: s.url, Attempt: failures, LastEventID: s.LastEventID()})
		s.log.WarnContext(sctx, "realtime.connect.fail",
			slog.String("err", err.Error()),
			slog.Duration("retry_in", delay),
		)
		s.report(Status{State: StateError, Attempt: failures, Err: err, Delay: delay})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Subscriber) delay(attempt int) time.Duration {
	s.mu.Lock()
	hint := s.retry
	s.mu.Unlock()
	if hp, ok := s.policy.(HintedPolicy); ok {
		return hp.NextWithHint(attempt, hint)
	}
	return s.policy.Next(attempt)
}

func (s *Subscriber) report(st Status) {
	if s.status != nil {
		s.status(st)
	}
}

// connect runs one connection. opened reports whether the server accepted
// the stream.
func (s *Subscriber) connect(ctx context.Context, attempt int, h Handler) (opened bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", uuid.NewString())
	p := &parser{lastID: s.LastEventID()}
	if p.lastID != "" {
		req.Header.Set("Last-Event-ID", p.lastID)
	}

	sctx := logctx.WithStreamData(ctx, &logctx.StreamData{URL: s.url, Attempt: attempt, LastEventID: p.lastID})

	resp, err := s.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrBadStream, resp.StatusCode)
	}
	if ct := contenttype.NewMediaType(resp.Header.Get("Content-Type")); !ct.Matches(eventStreamMediaType) {
		return false, fmt.Errorf("%w: content type %q", ErrBadStream, resp.Header.Get("Content-Type"))
	}

	s.log.InfoContext(sctx, "realtime.connect.ok")
	s.report(Status{State: StateOpen, Attempt: attempt})

	err = p.readFrames(resp.Body, func(f frame) error {
		s.mu.Lock()
		s.lastID = p.lastID
		s.retry = p.retry
		s.mu.Unlock()

		ev, derr := Decode([]byte(f.data))
		if derr != nil {
			s.log.WarnContext(sctx, "realtime.event.decode.fail", slog.String("err", derr.Error()))
			return nil
		}
		ev.ID = f.id
		ev.Channel = f.event
		if ev.Type == "" && f.event != "message" {
			ev.Type = f.event
		}
		h(ctx, ev)
		return nil
	})

	// id and retry fields may arrive without a dispatched frame.
	s.mu.Lock()
	s.lastID = p.lastID
	s.retry = p.retry
	s.mu.Unlock()
	return true, err
}
