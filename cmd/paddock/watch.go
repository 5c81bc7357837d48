package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/paddock/realtime"
	"github.com/ggoodman/paddock/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// watchLine is one event as printed by watch in structured formats.
type watchLine struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Kind      string `json:"kind" yaml:"kind"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	PilotID   string `json:"pilot_id,omitempty" yaml:"pilot_id,omitempty"`
	TeamID    string `json:"team_id,omitempty" yaml:"team_id,omitempty"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func newWatchCmd(a *app) *cobra.Command {
	var (
		refresh     bool
		heartbeats  bool
		lastEventID string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live event stream",
		Long: `Follow the backend's server-sent event stream until interrupted.

The connection is retried forever using the configured policy
(PADDOCK_SSE_POLICY, PADDOCK_SSE_RETRY) and resumes from the last event
seen. With --refresh the team and pilot lists are reloaded whenever an event
changes them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := &syncWriter{w: cmd.OutOrStdout()}
			errOut := &syncWriter{w: cmd.ErrOrStderr()}

			show := func(ev realtime.Event) {
				if ev.Kind() == realtime.TypeHeartbeat && !heartbeats {
					return
				}
				if err := a.printEvent(out, ev); err != nil {
					a.log.WarnContext(ctx, "watch.print.fail", slog.String("err", err.Error()))
				}
			}

			handler := show
			if refresh {
				r := &realtime.Refresher{
					Teams: func(ctx context.Context) error {
						teams, err := a.client.Teams(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintln(errOut, dimStyle.Render(fmt.Sprintf("teams reloaded: %d", len(teams))))
						return nil
					},
					Pilots: func(ctx context.Context) error {
						pilots, err := a.client.Pilots(ctx)
						if err != nil {
							return err
						}
						fmt.Fprintln(errOut, dimStyle.Render(fmt.Sprintf("pilots reloaded: %d", len(pilots))))
						return nil
					},
					Log: a.log,
				}
				handler = func(ev realtime.Event) {
					show(ev)
					r.Handle(ctx, ev)
				}
			}

			// Follow logins and logouts made by other paddock processes.
			go func() {
				err := a.sess.Watch(ctx, func(st session.State) {
					msg := "session ended elsewhere"
					if st.Identity != nil {
						msg = "session changed: now " + st.Identity.Username
					}
					fmt.Fprintln(errOut, warnStyle.Render(msg))
				})
				if err != nil && !errors.Is(err, session.ErrWatchUnsupported) && ctx.Err() == nil {
					a.log.DebugContext(ctx, "watch.session.fail", slog.String("err", err.Error()))
				}
			}()

			sub := realtime.NewSubscriber(a.client.URL("/sse"),
				realtime.WithPolicy(a.cfg.Policy()),
				realtime.WithLastEventID(lastEventID),
				realtime.WithLogger(a.log),
				realtime.WithStatus(func(st realtime.Status) {
					fmt.Fprintln(errOut, statusLine(st))
				}),
			)
			err := sub.Run(ctx, func(_ context.Context, ev realtime.Event) { handler(ev) })
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload team and pilot lists when events change them")
	cmd.Flags().BoolVar(&heartbeats, "heartbeats", false, "show heartbeat events")
	cmd.Flags().StringVar(&lastEventID, "last-event-id", "", "resume after this event id")
	return cmd
}

func statusLine(st realtime.Status) string {
	switch st.State {
	case realtime.StateOpen:
		return okStyle.Render("connected")
	case realtime.StateError:
		return errStyle.Render(fmt.Sprintf("disconnected (%v); retrying in %s", st.Err, st.Delay))
	}
	if st.Attempt > 1 {
		return dimStyle.Render(fmt.Sprintf("connecting (attempt %d)", st.Attempt))
	}
	return dimStyle.Render("connecting")
}

func (a *app) printEvent(w io.Writer, ev realtime.Event) error {
	line := watchLine{
		ID:        ev.ID,
		Kind:      ev.Kind(),
		Type:      ev.Type,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
		PilotID:   ev.PilotID,
		TeamID:    ev.TeamID,
		Name:      ev.Name,
	}
	switch a.output {
	case outputJSON:
		return json.NewEncoder(w).Encode(line)
	case outputYAML:
		b, err := yaml.Marshal(line)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "---\n%s", b)
		return err
	}

	ts := ev.Timestamp
	if ts == "" {
		ts = time.Now().Format(time.RFC3339)
	}
	var text string
	switch ev.Kind() {
	case realtime.TypePilotCreated:
		text = "New pilot: " + ev.Name
	case realtime.TypeTeamCreated:
		text = "New team: " + ev.Name
	case realtime.TypeTeamUpdated:
		text = "Team updated: " + ev.Name
	case realtime.TypeHeartbeat:
		text = "heartbeat"
	case realtime.TypeLog:
		text = ev.Message
	default:
		text = string(ev.Raw)
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n", dimStyle.Render(ts), okStyle.Render(fmt.Sprintf("%-14s", ev.Kind())), text)
	return err
}
