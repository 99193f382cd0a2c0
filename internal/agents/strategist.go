package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/careerpilot/careerpilot/internal/directive"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/store"
)

// StrategistConfig tunes the rejection-burst reaction.
type StrategistConfig struct {
	RejectionBurst  int
	RejectionWindow time.Duration
}

// Strategist consumes REJECTION_PARSED events and reacts to losing streaks:
// a burst of rejections inside the window pauses further applications and
// pushes the user toward a focus review.
type Strategist struct {
	store      *store.Store
	directives *directive.Service
	cfg        StrategistConfig
	now        func() time.Time
}

// NewStrategist creates the strategist agent.
func NewStrategist(st *store.Store, dirs *directive.Service, cfg StrategistConfig) *Strategist {
	if cfg.RejectionBurst < 1 {
		cfg.RejectionBurst = 3
	}
	if cfg.RejectionWindow <= 0 {
		cfg.RejectionWindow = 7 * 24 * time.Hour
	}
	return &Strategist{store: st, directives: dirs, cfg: cfg, now: time.Now}
}

// SetClock injects the time source for tests.
func (s *Strategist) SetClock(now func() time.Time) { s.now = now }

// Register wires the strategist onto the bus.
func (s *Strategist) Register(bus *event.Bus) {
	bus.Handle(event.TypeRejectionParsed, s.handle)
}

func (s *Strategist) handle(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.RejectionParsedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a rejection"}
	}
	if strings.TrimSpace(p.UserID) == "" {
		return event.Result{Status: event.Invalid, Reason: "user_id is required"}
	}

	if p.ApplicationID != "" {
		if err := s.store.UpdateApplicationStatus(p.ApplicationID, store.ApplicationRejected); err != nil {
			slog.Warn("Rejection references unknown application", "application_id", p.ApplicationID, "error", err)
		}
	}

	since := s.now().Add(-s.cfg.RejectionWindow)
	count, err := s.store.CountRecentRejections(p.UserID, since)
	if err != nil {
		return event.Blame(err)
	}
	if count < s.cfg.RejectionBurst {
		return event.Ok()
	}

	// already paused means the streak was already handled
	dec, err := s.directives.CheckOperation(p.UserID, "strategist", directive.OpApply)
	if err != nil {
		return event.Blame(err)
	}
	if dec.Blocked {
		return event.Ok()
	}

	slog.Info("Rejection burst detected", "user_id", p.UserID, "count", count, "window", s.cfg.RejectionWindow)

	if _, err := s.directives.Issue(ctx, directive.IssueRequest{
		UserID:   p.UserID,
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityCritical,
		Title:    fmt.Sprintf("%d rejections in %d days", count, int(s.cfg.RejectionWindow.Hours()/24)),
		Description: "Applications are paused until the current approach is reviewed. " +
			"Something in the profile, targeting, or materials is not landing.",
		ActionRequired: "Review recent rejections and adjust targeting before resuming",
	}); err != nil {
		return event.Blame(err)
	}

	if _, err := s.directives.Issue(ctx, directive.IssueRequest{
		UserID:         p.UserID,
		Type:           store.DirectiveFocusShift,
		Priority:       store.PriorityHigh,
		Title:          "Realign target roles",
		Description:    "The rejection pattern suggests a mismatch between claimed and verified strengths.",
		ActionRequired: "Complete a focus review to pick roles matching verified skills",
	}); err != nil {
		return event.Blame(err)
	}
	return event.Ok()
}
