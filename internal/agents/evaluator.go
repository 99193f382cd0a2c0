package agents

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/careerpilot/careerpilot/internal/analysis"
	"github.com/careerpilot/careerpilot/internal/event"
	"github.com/careerpilot/careerpilot/internal/store"
)

// Evaluator consumes INTERVIEW_COMPLETED events: it runs the analysis loop
// over the transcript, persists one verification per interview, and updates
// the user's verified skill levels.
type Evaluator struct {
	store          *store.Store
	loop           *analysis.Loop
	notify         Broadcaster
	enableLearning bool
}

// NewEvaluator creates the interview evaluator.
func NewEvaluator(st *store.Store, loop *analysis.Loop, notify Broadcaster, enableLearning bool) *Evaluator {
	if notify == nil {
		notify = NopBroadcaster
	}
	return &Evaluator{store: st, loop: loop, notify: notify, enableLearning: enableLearning}
}

// Register wires the evaluator onto the bus.
func (e *Evaluator) Register(bus *event.Bus) {
	bus.Handle(event.TypeInterviewCompleted, e.handle)
}

func (e *Evaluator) handle(ctx context.Context, evt event.Envelope) event.Result {
	p, ok := evt.Payload.(*event.InterviewCompletedPayload)
	if !ok {
		return event.Result{Status: event.Invalid, Reason: "payload is not an interview"}
	}
	if strings.TrimSpace(p.InterviewID) == "" || strings.TrimSpace(p.Transcript) == "" {
		return event.Result{Status: event.Invalid, Reason: "interview_id and transcript are required"}
	}

	// a retried event carries a fresh event id, so the ledger alone cannot
	// dedupe per interview; the verification row is the authority
	if existing, err := e.store.GetVerificationByInterview(p.InterviewID); err == nil && existing != nil {
		return event.Result{Status: event.Skip, Reason: "interview already verified"}
	}

	skills, err := e.store.ListSkills(p.UserID)
	if err != nil {
		return event.Blame(err)
	}
	claims := make([]analysis.Claim, 0, len(skills))
	prior := make(map[string]string, len(skills))
	for _, sk := range skills {
		claims = append(claims, analysis.Claim{Name: sk.Name, ClaimedLevel: sk.ClaimedLevel})
		if sk.VerifiedLevel != "" {
			prior[strings.ToLower(sk.Name)] = sk.VerifiedLevel
		}
	}

	result, meta, err := e.loop.Run(ctx, analysis.Input{
		Transcript:    p.Transcript,
		Claims:        claims,
		PriorVerified: prior,
		ProgressCheck: e.enableLearning,
	})
	if err != nil {
		return event.Blame(err)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return event.Blame(err)
	}
	if err := e.store.InsertVerification(&store.VerificationRecord{
		InterviewID:  p.InterviewID,
		UserID:       p.UserID,
		OverallScore: result.OverallScore,
		Result:       string(resultJSON),
		Iterations:   meta.Iterations,
		Confidence:   meta.Confidence,
		DurationMs:   meta.Elapsed.Milliseconds(),
	}); err != nil {
		// a concurrent retry inserted first; the unique constraint makes
		// this a duplicate, not a failure
		if existing, gerr := e.store.GetVerificationByInterview(p.InterviewID); gerr == nil && existing != nil {
			return event.Result{Status: event.Skip, Reason: "interview already verified"}
		}
		return event.Blame(err)
	}

	gaps := 0
	for _, a := range result.Skills {
		if err := e.store.UpdateVerifiedLevel(p.UserID, a.Name, a.VerifiedLevel, a.Confidence); err != nil {
			slog.Warn("Failed to record verified level", "user_id", p.UserID, "skill", a.Name, "error", err)
		}
		if a.GapIdentified {
			gaps++
		}
	}

	traceJSON, _ := json.Marshal(meta.Trace)
	if err := e.store.InsertAgentRun(&store.AgentRunRecord{
		RunID:      store.NewID(),
		InputRef:   "interview:" + p.InterviewID,
		Status:     string(meta.Terminal),
		Iterations: meta.Iterations,
		Confidence: meta.Confidence,
		ElapsedMs:  meta.Elapsed.Milliseconds(),
		Trace:      string(traceJSON),
	}); err != nil {
		slog.Warn("Failed to record agent run", "interview_id", p.InterviewID, "error", err)
	}

	slog.Info("Interview evaluated",
		"interview_id", p.InterviewID, "user_id", p.UserID,
		"score", result.OverallScore, "iterations", meta.Iterations, "gaps", gaps)

	e.notify.BroadcastToUser(p.UserID, "interview_evaluated", map[string]any{
		"interview_id":  p.InterviewID,
		"overall_score": result.OverallScore,
		"gaps":          gaps,
	})
	return event.Ok()
}
