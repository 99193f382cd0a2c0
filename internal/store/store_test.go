package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "careerpilot.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestEventLifecycle(t *testing.T) {
	s := newTestStore(t)

	evt := &EventRecord{EventID: "ev-1", EventType: "INTERVIEW_COMPLETED", UserID: "u1", Payload: `{"interview_id":"iv1"}`}
	if err := s.InsertEvent(evt); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	skip, err := s.ShouldSkip("ev-1")
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if skip {
		t.Fatal("pending event should not be skipped")
	}

	claimed, err := s.ClaimEvent("ev-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected to win the claim")
	}

	skip, err = s.ShouldSkip("ev-1")
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if !skip {
		t.Fatal("processing event should be skipped")
	}

	if err := s.MarkEventCompleted("ev-1"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, err := s.GetEvent("ev-1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.Status != EventCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}
}

func TestDuplicateEventIDRejected(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertEvent(&EventRecord{EventID: "ev-dup", EventType: "JOB_MATCH_FOUND"}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if err := s.InsertEvent(&EventRecord{EventID: "ev-dup", EventType: "JOB_MATCH_FOUND"}); err == nil {
		t.Fatal("expected UNIQUE violation for duplicate event id")
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertEvent(&EventRecord{EventID: "ev-race", EventType: "INTERVIEW_COMPLETED"}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	const goroutines = 8
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ClaimEvent("ev-race")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one claim winner, got %d", winners)
	}
}

func TestFailedEventEntersRetryQueue(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertEvent(&EventRecord{EventID: "ev-fail", EventType: "REJECTION_PARSED"}); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := s.ClaimEvent("ev-fail"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkEventFailed("ev-fail", "provider unavailable", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	retryable, err := s.ListRetryableEvents(5, 10)
	if err != nil {
		t.Fatalf("list retryable: %v", err)
	}
	if len(retryable) != 1 || retryable[0].EventID != "ev-fail" {
		t.Fatalf("expected ev-fail in retry queue, got %+v", retryable)
	}

	ok, err := s.MarkEventRetried("ev-fail", "ev-fail-r1")
	if err != nil {
		t.Fatalf("mark retried: %v", err)
	}
	if !ok {
		t.Fatal("expected first mark-retried to win")
	}
	// A second worker must not spawn another retry.
	ok, err = s.MarkEventRetried("ev-fail", "ev-fail-r2")
	if err != nil {
		t.Fatalf("mark retried again: %v", err)
	}
	if ok {
		t.Fatal("expected second mark-retried to lose")
	}

	retryable, err = s.ListRetryableEvents(5, 10)
	if err != nil {
		t.Fatalf("list retryable: %v", err)
	}
	if len(retryable) != 0 {
		t.Fatalf("expected empty retry queue, got %d rows", len(retryable))
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	s := newTestStore(t)

	evt := &EventRecord{EventID: "ev-spent", EventType: "REJECTION_PARSED", Attempt: 5}
	if err := s.InsertEvent(evt); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := s.ClaimEvent("ev-spent"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkEventFailed("ev-spent", "still broken", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	retryable, err := s.ListRetryableEvents(5, 10)
	if err != nil {
		t.Fatalf("list retryable: %v", err)
	}
	if len(retryable) != 0 {
		t.Fatal("attempt budget exhausted, event must not be retried")
	}
}

func TestDirectiveTerminalIsFinal(t *testing.T) {
	s := newTestStore(t)

	d, err := s.InsertDirective(&DirectiveRecord{
		UserID:   "u1",
		Type:     DirectivePauseApplications,
		Priority: PriorityCritical,
		Title:    "Pause all applications",
	})
	if err != nil {
		t.Fatalf("insert directive: %v", err)
	}
	if d.Status != DirectivePending {
		t.Fatalf("expected pending, got %s", d.Status)
	}

	if err := s.FinalizeDirective(d.DirectiveID, DirectiveCompleted); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	err = s.FinalizeDirective(d.DirectiveID, DirectiveCancelled)
	if !errors.Is(err, ErrDirectiveTerminal) {
		t.Fatalf("expected ErrDirectiveTerminal, got %v", err)
	}
}

func TestBlockingDirectiveOrdering(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.InsertDirective(&DirectiveRecord{
		UserID: "u1", Type: DirectivePauseApplications, Priority: PriorityMedium, Title: "older medium",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	high, err := s.InsertDirective(&DirectiveRecord{
		UserID: "u1", Type: DirectiveFocusShift, Priority: PriorityHigh, Title: "newer high",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.ListBlockingDirectives("u1", []string{DirectivePauseApplications, DirectiveFocusShift}, time.Now())
	if err != nil {
		t.Fatalf("list blocking: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 blocking directives, got %d", len(got))
	}
	if got[0].DirectiveID != high.DirectiveID {
		t.Fatalf("expected highest priority first, got %s", got[0].Title)
	}
}

func TestExpiredDirectiveNotBlocking(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Hour)
	if _, err := s.InsertDirective(&DirectiveRecord{
		UserID: "u1", Type: DirectivePauseApplications, Title: "expired", ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.ListBlockingDirectives("u1", []string{DirectivePauseApplications}, time.Now())
	if err != nil {
		t.Fatalf("list blocking: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("expired directive must not block")
	}
}

func TestDirectiveLogLifecycle(t *testing.T) {
	s := newTestStore(t)

	d, err := s.InsertDirective(&DirectiveRecord{UserID: "u1", Type: DirectiveResumeRewrite, Title: "rewrite"})
	if err != nil {
		t.Fatalf("insert directive: %v", err)
	}
	log, err := s.InsertDirectiveLog(d.DirectiveID, "action-agent")
	if err != nil {
		t.Fatalf("insert log: %v", err)
	}
	if log.CompletedAt != nil {
		t.Fatal("fresh log must be open")
	}
	if err := s.CloseDirectiveLog(log.LogID, true, "resume regenerated"); err != nil {
		t.Fatalf("close log: %v", err)
	}

	logs, err := s.ListDirectiveLogs(d.DirectiveID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Success == nil || !*logs[0].Success {
		t.Fatalf("expected one successful log entry, got %+v", logs)
	}
}

func TestApplicationAndSkillRoundTrip(t *testing.T) {
	s := newTestStore(t)

	app, err := s.InsertApplication(&ApplicationRecord{
		UserID: "u1", JobTitle: "Backend Engineer", Company: "Acme", Platform: "LinkedIn",
	})
	if err != nil {
		t.Fatalf("insert application: %v", err)
	}
	if app.Platform != "linkedin" {
		t.Fatalf("platform should be normalized, got %s", app.Platform)
	}

	if err := s.UpdateApplicationStatus(app.ApplicationID, ApplicationRejected); err != nil {
		t.Fatalf("update status: %v", err)
	}
	n, err := s.CountRecentRejections("u1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count rejections: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recent rejection, got %d", n)
	}

	if err := s.UpsertSkill(&SkillRecord{UserID: "u1", Name: "Go", Category: "backend", ClaimedLevel: "expert"}); err != nil {
		t.Fatalf("upsert skill: %v", err)
	}
	if err := s.UpdateVerifiedLevel("u1", "Go", "practicing", 0.9); err != nil {
		t.Fatalf("update verified: %v", err)
	}
	// A later upsert without a verified level must not wipe the verification.
	if err := s.UpsertSkill(&SkillRecord{UserID: "u1", Name: "Go", Category: "backend", ClaimedLevel: "expert"}); err != nil {
		t.Fatalf("re-upsert skill: %v", err)
	}

	skills, err := s.ListSkills("u1")
	if err != nil {
		t.Fatalf("list skills: %v", err)
	}
	if len(skills) != 1 || skills[0].VerifiedLevel != "practicing" {
		t.Fatalf("expected verified level to survive, got %+v", skills)
	}
}

func TestVerificationUniquePerInterview(t *testing.T) {
	s := newTestStore(t)

	v := &VerificationRecord{InterviewID: "iv1", UserID: "u1", OverallScore: 72}
	if err := s.InsertVerification(v); err != nil {
		t.Fatalf("insert verification: %v", err)
	}
	if err := s.InsertVerification(v); err == nil {
		t.Fatal("expected UNIQUE violation for duplicate interview verification")
	}
	n, err := s.CountVerifications("iv1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one verification, got %d", n)
	}
}
