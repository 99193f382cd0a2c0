package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/careerpilot/careerpilot/internal/directive"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/store"
)

// Browser is the browser-automation capability the action agent drives.
// Implementations fill and submit application forms on the job platform.
type Browser interface {
	Apply(ctx context.Context, req BrowserApplyRequest) (*BrowserApplyResult, error)
}

// BrowserApplyRequest describes one application submission.
type BrowserApplyRequest struct {
	UserID   string
	JobTitle string
	Company  string
	Platform string
	JobURL   string
}

// BrowserApplyResult is the submission outcome.
type BrowserApplyResult struct {
	Submitted      bool
	ConfirmationID string
	Notes          string
}

// StubBrowser pretends every submission succeeds. It stands in until a real
// automation backend is configured.
type StubBrowser struct{}

func (StubBrowser) Apply(ctx context.Context, req BrowserApplyRequest) (*BrowserApplyResult, error) {
	return &BrowserApplyResult{
		Submitted:      true,
		ConfirmationID: store.NewID(),
		Notes:          fmt.Sprintf("stub submission to %s via %s", req.Company, req.Platform),
	}, nil
}

// ErrBlocked is returned from the HTTP apply path when a directive stops
// the operation; the decision explains what the user must do first.
type ErrBlocked struct {
	Decision directive.Decision
}

func (e *ErrBlocked) Error() string {
	id := ""
	if e.Decision.Directive != nil {
		id = e.Decision.Directive.DirectiveID
	}
	return fmt.Sprintf("operation blocked by directive %s: %s", id, e.Decision.Reason)
}

// ActionAgent applies to matched jobs on the user's behalf. Every apply
// path consults the directive gate first; a block is a defined outcome, not
// an error, and never reaches the browser.
type ActionAgent struct {
	store   *store.Store
	gate    *directive.Service
	bus     *event.Bus
	browser Browser
	notify  Broadcaster
}

// NewActionAgent creates the auto-apply agent.
func NewActionAgent(st *store.Store, gate *directive.Service, bus *event.Bus, browser Browser, notify Broadcaster) *ActionAgent {
	if browser == nil {
		browser = StubBrowser{}
	}
	if notify == nil {
		notify = NopBroadcaster
	}
	return &ActionAgent{store: st, gate: gate, bus: bus, browser: browser, notify: notify}
}

// Register wires the agent onto the bus.
func (a *ActionAgent) Register(bus *event.Bus) {
	bus.Handle(event.TypeJobMatchFound, a.handleJobMatch)
}

func (a *ActionAgent) handleJobMatch(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.JobMatchFoundPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not a job match"}
	}
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.JobTitle) == "" {
		return event.Result{Status: event.Invalid, Reason: "user_id and job_title are required"}
	}

	dec, err := a.gate.CheckOperation(p.UserID, "action_agent", directive.OpApply)
	if err != nil {
		return event.Blame(err)
	}
	if dec.Blocked {
		return event.Result{Status: event.Blocked, Reason: dec.Reason}
	}

	res, err := a.browser.Apply(ctx, BrowserApplyRequest{
		UserID:   p.UserID,
		JobTitle: p.JobTitle,
		Company:  p.Company,
		Platform: p.Platform,
		JobURL:   p.JobURL,
	})
	if err != nil {
		return event.Blame(err)
	}
	if !res.Submitted {
		return event.Blame(fmt.Errorf("submission not accepted: %s", res.Notes))
	}

	app, err := a.store.InsertApplication(&store.ApplicationRecord{
		UserID:   p.UserID,
		JobTitle: p.JobTitle,
		Company:  p.Company,
		Platform: p.Platform,
		Status:   store.ApplicationApplied,
	})
	if err != nil {
		return event.Blame(err)
	}
	slog.Info("Auto-applied to job",
		"user_id", p.UserID, "application_id", app.ApplicationID,
		"company", p.Company, "platform", p.Platform)

	a.announce(ctx, app)
	return event.Ok()
}

// ApplyExisting is the HTTP apply path for an application the user tracked
// manually. It passes the same gate as the autonomous path.
func (a *ActionAgent) ApplyExisting(ctx context.Context, applicationID string) (*store.ApplicationRecord, error) {
	app, err := a.store.GetApplication(applicationID)
	if err != nil {
		return nil, err
	}
	dec, err := a.gate.CheckOperation(app.UserID, "action_agent", directive.OpApply)
	if err != nil {
		return nil, err
	}
	if dec.Blocked {
		return nil, &ErrBlocked{Decision: dec}
	}

	res, err := a.browser.Apply(ctx, BrowserApplyRequest{
		UserID:   app.UserID,
		JobTitle: app.JobTitle,
		Company:  app.Company,
		Platform: app.Platform,
	})
	if err != nil {
		return nil, err
	}
	if !res.Submitted {
		return nil, fmt.Errorf("submission not accepted: %s", res.Notes)
	}
	if err := a.store.UpdateApplicationStatus(app.ApplicationID, store.ApplicationApplied); err != nil {
		return nil, err
	}
	app, err = a.store.GetApplication(applicationID)
	if err != nil {
		return nil, err
	}
	a.announce(ctx, app)
	return app, nil
}

func (a *ActionAgent) announce(ctx context.Context, app *store.ApplicationRecord) {
	if a.bus != nil {
		_, err := a.bus.Publish(ctx, event.TypeApplicationSubmitted, app.UserID, event.ApplicationSubmittedPayload{
			ApplicationID: app.ApplicationID,
			UserID:        app.UserID,
			JobTitle:      app.JobTitle,
			Company:       app.Company,
			Platform:      app.Platform,
		})
		if err != nil {
			slog.Error("Failed to publish application submitted event", "application_id", app.ApplicationID, "error", err)
		}
	}
	a.notify.BroadcastToUser(app.UserID, "application_submitted", app)
}
