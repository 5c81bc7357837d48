package apitest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/paddock/broker"
)

// handleSSE streams broker events as "id:" + "data:" frames. A Last-Event-ID
// the broker no longer knows restarts the stream at the live tail.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	lastID := r.Header.Get("Last-Event-ID")
	s.mu.Lock()
	s.streamSeq++
	streamID := s.streamSeq
	s.streams[streamID] = cancel
	s.lastIDs = append(s.lastIDs, lastID)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.streams, streamID)
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	var wmu sync.Mutex
	write := func(frame string) error {
		wmu.Lock()
		defer wmu.Unlock()
		if _, err := fmt.Fprint(w, frame); err != nil {
			return err
		}
		f.Flush()
		return nil
	}

	if s.retryHint > 0 {
		if err := write(fmt.Sprintf("retry: %d\n\n", s.retryHint.Milliseconds())); err != nil {
			return
		}
	} else if err := write(": connected\n\n"); err != nil {
		return
	}

	if s.heartbeat > 0 {
		go func() {
			t := time.NewTicker(s.heartbeat)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-t.C:
					frame := fmt.Sprintf("data: {\"type\":\"heartbeat\",\"timestamp\":%q}\n\n", now.UTC().Format(time.RFC3339))
					if write(frame) != nil {
						cancel()
						return
					}
				}
			}
		}()
	}

	handler := func(ctx context.Context, env broker.Envelope) error {
		data := strings.ReplaceAll(string(env.Data), "\n", "\ndata: ")
		return write(fmt.Sprintf("id: %s\ndata: %s\n\n", env.ID, data))
	}

	err := s.broker.Subscribe(ctx, EventsTopic, lastID, handler)
	if errors.Is(err, broker.ErrUnknownEventID) {
		err = s.broker.Subscribe(ctx, EventsTopic, "", handler)
	}
	if err != nil && ctx.Err() == nil {
		s.log.WarnContext(ctx, "apitest.sse.fail", slog.String("err", err.Error()))
	}
}
