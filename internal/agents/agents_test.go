package agents

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/careerpilot/careerpilot/internal/analysis"
	"github.com/careerpilot/careerpilot/internal/directive"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/provider"
	"github.com/careerpilot/careerpilot/internal/store"
)

// fixedLLM always answers with the same evaluation.
type fixedLLM struct {
	content string
	mu      sync.Mutex
	calls   int
}

func (f *fixedLLM) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &provider.ChatResponse{Content: f.content, FinishReason: "stop"}, nil
}

func (f *fixedLLM) DefaultModel() string { return "fixed" }

type recorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *recorder) BroadcastToUser(userID, eventName string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, userID+":"+eventName)
}

func (r *recorder) has(frame string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames {
		if f == frame {
			return true
		}
	}
	return false
}

type fixture struct {
	store      *store.Store
	bus        *event.Bus
	directives *directive.Service
	action     *ActionAgent
	sentinel   *Sentinel
	notify     *recorder
}

func newFixture(t *testing.T, browser Browser) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := event.NewBus(st, event.Options{MaxAttempts: 3, HardTimeout: 30 * time.Second})
	notify := &recorder{}
	dirs := directive.NewService(st, directive.WithPublisher(bus), directive.WithBroadcaster(notify))

	llm := &fixedLLM{content: `{"overall_score": 85, "confidence": 0.9,
		"strengths": [{"category": "go", "description": "excellent goroutine reasoning"}],
		"improvements": [{"category": "sql", "description": "weak on query planning"}],
		"category_scores": {"go": 90}}`}
	loop := analysis.NewLoop(llm, analysis.Config{MaxIterations: 3, ConfidenceThreshold: 0.8, Timeout: time.Minute})

	f := &fixture{
		store:      st,
		bus:        bus,
		directives: dirs,
		notify:     notify,
		action:     NewActionAgent(st, dirs, bus, browser, notify),
		sentinel:   NewSentinel(st, bus, notify),
	}
	NewEvaluator(st, loop, notify, true).Register(bus)
	NewStrategist(st, dirs, StrategistConfig{RejectionBurst: 3, RejectionWindow: 7 * 24 * time.Hour}).Register(bus)
	NewNotifier(notify).Register(bus)
	f.action.Register(bus)
	f.sentinel.Register(bus)
	return f
}

func TestDuplicateInterviewEventVerifiesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.store.UpsertSkill(&store.SkillRecord{
		UserID: "user1", Name: "go", Category: "backend", ClaimedLevel: "expert",
	}); err != nil {
		t.Fatalf("seed skill: %v", err)
	}

	payload := event.InterviewCompletedPayload{
		InterviewID: "iv1",
		UserID:      "user1",
		Transcript:  "we talked about goroutines and channels at length",
	}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.bus.PublishWithID(ctx, "interview:iv1", event.TypeInterviewCompleted, "user1", payload); err != nil {
				t.Errorf("publish: %v", err)
			}
		}()
	}
	wg.Wait()
	f.bus.Wait()

	n, err := f.store.CountVerifications("iv1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("got %d verification records, want exactly 1", n)
	}

	skills, err := f.store.ListSkills("user1")
	if err != nil {
		t.Fatalf("list skills: %v", err)
	}
	if len(skills) != 1 || skills[0].VerifiedLevel == "" {
		t.Fatalf("skill verification not applied: %+v", skills)
	}
	if !f.notify.has("user1:interview_evaluated") {
		t.Fatal("evaluation should be broadcast")
	}
}

func TestJobMatchBlockedByPauseDirective(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	d, err := f.directives.Issue(ctx, directive.IssueRequest{
		UserID:   "user1",
		Type:     store.DirectivePauseApplications,
		Priority: store.PriorityCritical,
		Title:    "Pause applications",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.bus.Wait()

	id, err := f.bus.Publish(ctx, event.TypeJobMatchFound, "user1", event.JobMatchFoundPayload{
		UserID: "user1", JobTitle: "Backend Engineer", Company: "Acme", Platform: "linkedin",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	f.bus.Wait()

	rec, err := f.store.GetEvent(id)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if rec.Status != store.EventCompleted {
		t.Fatalf("blocked event status = %q, want completed (defined outcome, no retry)", rec.Status)
	}
	apps, err := f.store.ListApplications("user1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(apps) != 0 {
		t.Fatal("blocked apply must not create an application")
	}

	// completing the directive reopens the pipeline
	log, err := f.directives.StartExecution(d.DirectiveID, "user")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.directives.CompleteExecution(ctx, d.DirectiveID, log.LogID, "reviewed"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.bus.Wait()

	if _, err := f.bus.Publish(ctx, event.TypeJobMatchFound, "user1", event.JobMatchFoundPayload{
		UserID: "user1", JobTitle: "Backend Engineer", Company: "Acme", Platform: "linkedin",
	}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	f.bus.Wait()

	apps, err = f.store.ListApplications("user1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(apps) != 1 {
		t.Fatalf("got %d applications after unblock, want 1", len(apps))
	}
	if apps[0].Status != store.ApplicationApplied {
		t.Fatalf("status = %q", apps[0].Status)
	}
	if !f.notify.has("user1:application_submitted") {
		t.Fatal("submission should be broadcast")
	}
}

func TestApplyExistingReturnsStructuredBlock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	app, err := f.store.InsertApplication(&store.ApplicationRecord{
		UserID: "user1", JobTitle: "SRE", Company: "Beta", Platform: "indeed",
		Status: store.ApplicationScreening,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	d, err := f.directives.Issue(ctx, directive.IssueRequest{
		UserID:         "user1",
		Type:           store.DirectivePauseApplications,
		Priority:       store.PriorityHigh,
		Title:          "Pause applications",
		ActionRequired: "Review pipeline first",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.bus.Wait()

	_, err = f.action.ApplyExisting(ctx, app.ApplicationID)
	var blocked *ErrBlocked
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want *ErrBlocked", err)
	}
	if blocked.Decision.Directive == nil || blocked.Decision.Directive.DirectiveID != d.DirectiveID {
		t.Fatalf("block must carry the directive: %+v", blocked.Decision)
	}
	if blocked.Decision.RequiredAction != "Review pipeline first" {
		t.Fatalf("required_action = %q", blocked.Decision.RequiredAction)
	}
}

func TestBrowserFailureRetriedUnderLedger(t *testing.T) {
	f := newFixture(t, failingBrowser{})
	ctx := context.Background()

	id, err := f.bus.Publish(ctx, event.TypeJobMatchFound, "user1", event.JobMatchFoundPayload{
		UserID: "user1", JobTitle: "Backend Engineer", Company: "Acme", Platform: "indeed",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	f.bus.Wait()

	rec, err := f.store.GetEvent(id)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if rec.Status != store.EventFailed {
		t.Fatalf("status = %q, want failed for transient browser error", rec.Status)
	}
}

type failingBrowser struct{}

func (failingBrowser) Apply(ctx context.Context, req BrowserApplyRequest) (*BrowserApplyResult, error) {
	return nil, fmt.Errorf("session expired")
}

func TestRejectionBurstTriggersPause(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var appIDs []string
	for i := 0; i < 3; i++ {
		app, err := f.store.InsertApplication(&store.ApplicationRecord{
			UserID: "user1", JobTitle: fmt.Sprintf("Role %d", i), Company: "Acme", Platform: "linkedin",
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		appIDs = append(appIDs, app.ApplicationID)
	}

	for _, id := range appIDs {
		if _, err := f.bus.Publish(ctx, event.TypeRejectionParsed, "user1", event.RejectionParsedPayload{
			ApplicationID: id, UserID: "user1", Company: "Acme",
		}); err != nil {
			t.Fatalf("publish: %v", err)
		}
		f.bus.Wait()
	}

	dec, err := f.directives.CheckOperation("user1", "action_agent", directive.OpApply)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !dec.Blocked {
		t.Fatal("three rejections in the window must pause applications")
	}

	all, err := f.directives.List("user1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var pauses, shifts int
	for _, d := range all {
		switch d.Type {
		case store.DirectivePauseApplications:
			pauses++
		case store.DirectiveFocusShift:
			shifts++
		}
	}
	if pauses != 1 || shifts != 1 {
		t.Fatalf("got %d pauses and %d shifts, want one of each (no duplicates)", pauses, shifts)
	}
}

func TestSentinelAlertsOncePerApplication(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	app, err := f.store.InsertApplication(&store.ApplicationRecord{
		UserID: "user1", JobTitle: "Backend Engineer", Company: "Acme", Platform: "linkedin",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	// backdate to ten silent days
	past := time.Now().UTC().Add(-10 * 24 * time.Hour)
	if _, err := f.store.DB().Exec(
		`UPDATE applications SET created_at = ?, updated_at = ? WHERE application_id = ?`,
		past, past, app.ApplicationID,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	alerts, err := f.sentinel.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if alerts != 1 {
		t.Fatalf("alerts = %d, want 1", alerts)
	}
	f.bus.Wait()
	if !f.notify.has("user1:ghosting_alert") {
		t.Fatal("ghosting alert should be broadcast")
	}

	alerts, err = f.sentinel.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if alerts != 0 {
		t.Fatalf("second sweep alerts = %d, want 0 (one-shot)", alerts)
	}

	events, err := f.store.ListEvents("user1", "", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	ghosting := 0
	for _, e := range events {
		if e.EventType == string(event.TypeGhostingDetected) {
			ghosting++
		}
	}
	if ghosting != 1 {
		t.Fatalf("got %d ghosting events, want 1", ghosting)
	}
}

func TestFreshApplicationNotAlerted(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.store.InsertApplication(&store.ApplicationRecord{
		UserID: "user1", JobTitle: "Backend Engineer", Company: "Acme", Platform: "referral",
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	alerts, err := f.sentinel.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if alerts != 0 {
		t.Fatalf("alerts = %d, a fresh application is not at risk", alerts)
	}
}
