package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/hope"
	"github.com/careerpilot/careerpilot/internal/store"
)

// Sentinel periodically scores applied-status applications and raises a
// one-shot ghosting alert for each one that drops to at-risk.
type Sentinel struct {
	store  *store.Store
	bus    *event.Bus
	notify Broadcaster
	now    func() time.Time
}

// NewSentinel creates the ghosting sentinel.
func NewSentinel(st *store.Store, bus *event.Bus, notify Broadcaster) *Sentinel {
	if notify == nil {
		notify = NopBroadcaster
	}
	return &Sentinel{store: st, bus: bus, notify: notify, now: time.Now}
}

// SetClock injects the time source for tests.
func (s *Sentinel) SetClock(now func() time.Time) { s.now = now }

// Register wires the ghosting consumer onto the bus. The sweep publishes
// GHOSTING_DETECTED; this handler delivers the alert to the user.
func (s *Sentinel) Register(bus *event.Bus) {
	bus.Handle(event.TypeGhostingDetected, s.handleDetected)
}

func (s *Sentinel) handleDetected(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.GhostingDetectedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a ghosting alert"}
	}
	s.notify.BroadcastToUser(p.UserID, "ghosting_alert", p)
	return event.Ok()
}

// Sweep scores every applied-status application once. Returns how many new
// alerts were raised. The ghosting_alerted flag makes each alert one-shot;
// overlapping sweeps cannot double-alert.
func (s *Sentinel) Sweep(ctx context.Context) (int, error) {
	apps, err := s.store.ListApplicationsByStatus(store.ApplicationApplied)
	if err != nil {
		return 0, err
	}
	now := s.now()
	alerts := 0
	for i := range apps {
		app := &apps[i]
		score := hope.ScoreApplication(now, app)
		if !hope.AtRisk(score) || app.GhostingAlerted {
			continue
		}
		won, err := s.store.MarkGhostingAlerted(app.ApplicationID)
		if err != nil {
			slog.Error("Failed to flag ghosting alert", "application_id", app.ApplicationID, "error", err)
			continue
		}
		if !won {
			continue
		}
		if _, err := s.bus.Publish(ctx, event.TypeGhostingDetected, app.UserID, event.GhostingDetectedPayload{
			ApplicationID: app.ApplicationID,
			UserID:        app.UserID,
			Platform:      app.Platform,
			HopeScore:     int(score),
		}); err != nil {
			slog.Error("Failed to publish ghosting event", "application_id", app.ApplicationID, "error", err)
			continue
		}
		alerts++
	}
	if alerts > 0 {
		slog.Info("Ghosting sweep finished", "scored", len(apps), "alerts", alerts)
	}
	return alerts, nil
}
