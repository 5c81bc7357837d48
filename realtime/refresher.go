package realtime

import (
	"context"
	"log/slog"

	"github.com/ggoodman/paddock/internal/logctx"
)

// Target is a list that an event invalidates.
type Target string

const (
	TargetTeams  Target = "teams"
	TargetPilots Target = "pilots"
)

// Targets returns the lists ev invalidates.
func Targets(ev Event) []Target {
	switch ev.Kind() {
	case TypePilotCreated:
		return []Target{TargetPilots}
	case TypeTeamCreated:
		return []Target{TargetTeams}
	case TypeTeamUpdated:
		// Pilot rows carry the resolved team name.
		return []Target{TargetTeams, TargetPilots}
	}
	return nil
}

// Refresher reloads lists in response to events. A nil reload func skips its
// target. Reload errors are logged and do not stop the stream.
type Refresher struct {
	Teams  func(ctx context.Context) error
	Pilots func(ctx context.Context) error
	Log    *slog.Logger
}

// Handle is a Handler.
func (r *Refresher) Handle(ctx context.Context, ev Event) {
	for _, t := range Targets(ev) {
		var reload func(context.Context) error
		switch t {
		case TargetTeams:
			reload = r.Teams
		case TargetPilots:
			reload = r.Pilots
		}
		if reload == nil {
			continue
		}
		if err := reload(ctx); err != nil {
			r.logger().WarnContext(ctx, "realtime.refresh.fail",
				slog.String("target", string(t)),
				slog.String("err", err.Error()),
			)
		}
	}
}

func (r *Refresher) logger() *slog.Logger {
	return logctx.Wrap(r.Log)
}
