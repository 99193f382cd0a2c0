// Package directive implements the strategic directive lifecycle and the
// enforcement gate agents must consult before gated operations.
package directive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/store"
)

// Broadcaster pushes directive changes to connected clients. The realtime
// hub satisfies this; tests plug in a recorder.
type Broadcaster interface {
	BroadcastToUser(userID, eventName string, payload any)
}

// Publisher publishes domain events. The event bus satisfies this.
type Publisher interface {
	Publish(ctx context.Context, t event.Type, userID string, payload any) (string, error)
}

// Service owns directive state transitions. Records are only ever mutated
// through these named transitions, never by direct field writes.
type Service struct {
	store     *store.Store
	publisher Publisher
	notify    Broadcaster
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher wires the event bus for DIRECTIVE_ISSUED/COMPLETED events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithBroadcaster wires realtime notifications.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.notify = b }
}

// WithClock injects the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a directive service.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IssueRequest describes a new directive.
type IssueRequest struct {
	UserID         string     `json:"user_id"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	ActionRequired string     `json:"action_required,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Issue creates a pending directive and announces it.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*store.DirectiveRecord, error) {
	switch req.Type {
	case store.DirectivePauseApplications, store.DirectiveFocusShift,
		store.DirectiveSkillPriority, store.DirectiveResumeRewrite:
	default:
		return nil, fmt.Errorf("unknown directive type: %s", req.Type)
	}
	d, err := s.store.InsertDirective(&store.DirectiveRecord{
		UserID:         req.UserID,
		Type:           req.Type,
		Priority:       req.Priority,
		Title:          req.Title,
		Description:    req.Description,
		ActionRequired: req.ActionRequired,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Directive issued", "directive_id", d.DirectiveID, "user_id", d.UserID, "type", d.Type, "priority", d.Priority)

	if s.publisher != nil {
		_, err := s.publisher.Publish(ctx, event.TypeDirectiveIssued, d.UserID, event.DirectiveIssuedPayload{
			DirectiveID: d.DirectiveID,
			UserID:      d.UserID,
			Type:        d.Type,
			Priority:    d.Priority,
			Title:       d.Title,
		})
		if err != nil {
			slog.Error("Failed to publish directive issued event", "directive_id", d.DirectiveID, "error", err)
		}
	}
	if s.notify != nil {
		s.notify.BroadcastToUser(d.UserID, "directive_issued", d)
	}
	return d, nil
}

// Activate moves a pending directive to active.
func (s *Service) Activate(directiveID string) error {
	return s.store.ActivateDirective(directiveID)
}

// Get returns a directive by id.
func (s *Service) Get(directiveID string) (*store.DirectiveRecord, error) {
	return s.store.GetDirective(directiveID)
}

// List returns a user's directives, optionally filtered by status.
func (s *Service) List(userID, status string) ([]store.DirectiveRecord, error) {
	return s.store.ListDirectives(userID, status, 0)
}

// StartExecution opens an execution log entry for a directive. Every
// completion or cancellation attempt is logged for audit.
func (s *Service) StartExecution(directiveID, executor string) (*store.DirectiveLogRecord, error) {
	if _, err := s.store.GetDirective(directiveID); err != nil {
		return nil, err
	}
	log, err := s.store.InsertDirectiveLog(directiveID, executor)
	if err != nil {
		return nil, err
	}
	slog.Info("Directive execution started", "directive_id", directiveID, "log_id", log.LogID, "executor", executor)
	return log, nil
}

// CompleteExecution closes the log entry and marks the directive completed.
// Completing an already-terminal directive closes the log as unsuccessful
// and returns store.ErrDirectiveTerminal, so duplicate completions are
// detectable rather than silent.
func (s *Service) CompleteExecution(ctx context.Context, directiveID, logID, result string) error {
	d, err := s.store.GetDirective(directiveID)
	if err != nil {
		return err
	}
	if err := s.store.FinalizeDirective(directiveID, store.DirectiveCompleted); err != nil {
		_ = s.store.CloseDirectiveLog(logID, false, "duplicate completion: "+result)
		return err
	}
	if err := s.store.CloseDirectiveLog(logID, true, result); err != nil {
		return err
	}
	slog.Info("Directive completed", "directive_id", directiveID, "log_id", logID)

	if s.publisher != nil {
		_, err := s.publisher.Publish(ctx, event.TypeDirectiveCompleted, d.UserID, event.DirectiveCompletedPayload{
			DirectiveID: directiveID,
			UserID:      d.UserID,
			LogID:       logID,
		})
		if err != nil {
			slog.Error("Failed to publish directive completed event", "directive_id", directiveID, "error", err)
		}
	}
	if s.notify != nil {
		s.notify.BroadcastToUser(d.UserID, "directive_completed", map[string]string{
			"directive_id": directiveID,
			"log_id":       logID,
		})
	}
	return nil
}

// Cancel marks a directive cancelled, logging the attempt.
func (s *Service) Cancel(ctx context.Context, directiveID, reason string) error {
	d, err := s.store.GetDirective(directiveID)
	if err != nil {
		return err
	}
	log, err := s.store.InsertDirectiveLog(directiveID, "cancel")
	if err != nil {
		return err
	}
	if err := s.store.FinalizeDirective(directiveID, store.DirectiveCancelled); err != nil {
		_ = s.store.CloseDirectiveLog(log.LogID, false, "duplicate cancellation: "+reason)
		return err
	}
	if err := s.store.CloseDirectiveLog(log.LogID, true, reason); err != nil {
		return err
	}
	slog.Info("Directive cancelled", "directive_id", directiveID, "reason", reason)

	if s.notify != nil {
		s.notify.BroadcastToUser(d.UserID, "directive_cancelled", map[string]string{
			"directive_id": directiveID,
			"reason":       reason,
		})
	}
	return nil
}
