package agents

import (
	"context"
	"log/slog"

	"github.com/careerpilot/careerpilot/internal/event"
)

// Notifier consumes the announcement-style events whose only effect is
// informing the user's live sessions.
type Notifier struct {
	notify Broadcaster
}

// NewNotifier creates the notification consumer.
func NewNotifier(notify Broadcaster) *Notifier {
	if notify == nil {
		notify = NopBroadcaster
	}
	return &Notifier{notify: notify}
}

// Register wires the announcement handlers onto the bus.
func (n *Notifier) Register(bus *event.Bus) {
	bus.Handle(event.TypeApplicationSubmitted, n.handleApplicationSubmitted)
	bus.Handle(event.TypeDirectiveIssued, n.handleDirectiveIssued)
	bus.Handle(event.TypeDirectiveCompleted, n.handleDirectiveCompleted)
	bus.Handle(event.TypeModuleCompleted, n.handleModuleCompleted)
	bus.Handle(event.TypeRoadmapRepathNeeded, n.handleRepathNeeded)
}

func (n *Notifier) handleApplicationSubmitted(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.ApplicationSubmittedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not an application"}
	}
	n.notify.BroadcastToUser(p.UserID, "application_submitted", p)
	return event.Ok()
}

func (n *Notifier) handleDirectiveIssued(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.DirectiveIssuedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a directive"}
	}
	n.notify.BroadcastToUser(p.UserID, "directive_issued", p)
	return event.Ok()
}

func (n *Notifier) handleDirectiveCompleted(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.DirectiveCompletedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a directive"}
	}
	n.notify.BroadcastToUser(p.UserID, "directive_completed", p)
	return event.Ok()
}

func (n *Notifier) handleModuleCompleted(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.ModuleCompletedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a module completion"}
	}
	slog.Info("Learning module completed", "user_id", p.UserID, "module_id", p.ModuleID, "score", p.Score)
	n.notify.BroadcastToUser(p.UserID, "sprint_progress", p)
	return event.Ok()
}

func (n *Notifier) handleRepathNeeded(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.RoadmapRepathNeededPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a repath request"}
	}
	slog.Info("Roadmap repath requested", "user_id", p.UserID, "reason", p.Reason)
	n.notify.BroadcastToUser(p.UserID, "roadmap_repath_needed", p)
	return event.Ok()
}
