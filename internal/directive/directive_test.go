package directive

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st), st
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Type
}

func (p *recordingPublisher) Publish(ctx context.Context, t event.Type, userID string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, t)
	return "ev-" + string(t), nil
}

func (p *recordingPublisher) published() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Type(nil), p.events...)
}

func TestPendingDirectiveBlocksApply(t *testing.T) {
	svc, _ := newTestService(t)

	d, err := svc.Issue(context.Background(), IssueRequest{
		UserID:         "user1",
		Type:           store.DirectivePauseApplications,
		Priority:       store.PriorityHigh,
		Title:          "Pause applications",
		ActionRequired: "Review your pipeline",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if d.Status != store.DirectivePending {
		t.Fatalf("status = %q, want pending", d.Status)
	}

	dec, err := svc.CheckOperation("user1", "action_agent", OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !dec.Blocked {
		t.Fatal("pending pause_applications should block apply")
	}
	if dec.Directive == nil || dec.Directive.DirectiveID != d.DirectiveID {
		t.Fatalf("decision references wrong directive: %+v", dec.Directive)
	}
	if dec.RequiredAction != "Review your pipeline" {
		t.Fatalf("required_action = %q", dec.RequiredAction)
	}
}

func TestCompletionUnblocks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityMedium,
		Title:    "Pause applications",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	dec, err := svc.CheckOperation("user1", "action_agent", OpApply)
	if err != nil || !dec.Blocked {
		t.Fatalf("expected blocked before completion, got %+v err=%v", dec, err)
	}

	log, err := svc.StartExecution(d.DirectiveID, "user")
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if err := svc.CompleteExecution(ctx, d.DirectiveID, log.LogID, "pipeline reviewed"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	dec, err = svc.CheckOperation("user1", "action_agent", OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Blocked {
		t.Fatal("completed directive must not block")
	}
}

func TestFocusShiftBlocksSearchButPauseDoesNot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityHigh,
		Title:    "Pause applications",
	}); err != nil {
		t.Fatalf("issue pause: %v", err)
	}

	dec, err := svc.CheckOperation("user1", "search_agent", OpSearch)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Blocked {
		t.Fatal("pause_applications must not block search")
	}

	if _, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectiveFocusShift,
		Priority: store.PriorityHigh,
		Title:    "Shift focus to backend roles",
	}); err != nil {
		t.Fatalf("issue focus shift: %v", err)
	}

	for _, op := range []string{OpSearch, OpApply, OpOutreach} {
		dec, err := svc.CheckOperation("user1", "search_agent", op)
		if err != nil {
			t.Fatalf("check %s: %v", op, err)
		}
		if !dec.Blocked {
			t.Fatalf("focus_shift should block %s", op)
		}
	}
}

func TestHighestPriorityDirectiveWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityLow,
		Title:    "Low priority pause",
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	crit, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectiveFocusShift,
		Priority: store.PriorityCritical,
		Title:    "Critical focus shift",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	dec, err := svc.CheckOperation("user1", "action_agent", OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !dec.Blocked || dec.Directive.DirectiveID != crit.DirectiveID {
		t.Fatalf("expected critical directive to win, got %+v", dec.Directive)
	}
}

func TestUnknownOperationNeverBlocked(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Issue(context.Background(), IssueRequest{
		UserID:   "user1",
		Type:     store.DirectiveFocusShift,
		Priority: store.PriorityCritical,
		Title:    "Shift focus",
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}

	dec, err := svc.CheckOperation("user1", "evaluator", "evaluate_interview")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Blocked {
		t.Fatal("ungated operations must pass")
	}
}

func TestOtherUserUnaffected(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Issue(context.Background(), IssueRequest{
		UserID:   "user1",
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityHigh,
		Title:    "Pause applications",
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}

	dec, err := svc.CheckOperation("user2", "action_agent", OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Blocked {
		t.Fatal("directive must only block its own user")
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	pub := &recordingPublisher{}
	svc := NewService(st, WithPublisher(pub))
	ctx := context.Background()

	d, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectiveResumeRewrite,
		Priority: store.PriorityMedium,
		Title:    "Rewrite resume",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	log, err := svc.StartExecution(d.DirectiveID, "user")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CompleteExecution(ctx, d.DirectiveID, log.LogID, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got := pub.published()
	want := []event.Type{event.TypeDirectiveIssued, event.TypeDirectiveCompleted}
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published %v, want %v", got, want)
		}
	}
}

func TestDuplicateCompletionReported(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	d, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityHigh,
		Title:    "Pause applications",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	first, err := svc.StartExecution(d.DirectiveID, "user")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.CompleteExecution(ctx, d.DirectiveID, first.LogID, "ok"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	second, err := svc.StartExecution(d.DirectiveID, "user")
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	err = svc.CompleteExecution(ctx, d.DirectiveID, second.LogID, "again")
	if !errors.Is(err, store.ErrDirectiveTerminal) {
		t.Fatalf("err = %v, want ErrDirectiveTerminal", err)
	}

	logs, err := st.ListDirectiveLogs(d.DirectiveID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
}

func TestCancelIsTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.Issue(ctx, IssueRequest{
		UserID:   "user1",
		Type:     store.DirectiveFocusShift,
		Priority: store.PriorityHigh,
		Title:    "Shift focus",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := svc.Cancel(ctx, d.DirectiveID, "user changed mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	dec, err := svc.CheckOperation("user1", "action_agent", OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Blocked {
		t.Fatal("cancelled directive must not block")
	}

	log, err := svc.StartExecution(d.DirectiveID, "user")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	err = svc.CompleteExecution(ctx, d.DirectiveID, log.LogID, "late")
	if !errors.Is(err, store.ErrDirectiveTerminal) {
		t.Fatalf("err = %v, want ErrDirectiveTerminal", err)
	}
}

func TestExpiredDirectivePasses(t *testing.T) {
	svc, _ := newTestService(t)

	past := time.Now().Add(-time.Hour)
	if _, err := svc.Issue(context.Background(), IssueRequest{
		UserID:    "user1",
		Type:      store.DirectivePauseApplications,
		Priority:  store.PriorityCritical,
		Title:     "Old pause",
		ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}

	dec, err := svc.CheckOperation("user1", "action_agent", OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Blocked {
		t.Fatal("expired directive must not block")
	}
}
