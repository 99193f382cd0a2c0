// Package analysis implements the bounded iterative evaluation loop and the
// mapping from free-form model output to per-skill assessments.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/careerpilot/careerpilot/internal/provider"
)

// State names one phase of a run.
type State string

const (
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateReflecting State = "reflecting"
	StateDone       State = "done"
	StateTimedOut   State = "timed_out"
	StateFailed     State = "failed"
)

// Config bounds a run. A run performs at most MaxIterations iterations and
// stops early once self-reported confidence reaches ConfidenceThreshold or
// the wall-clock deadline passes.
type Config struct {
	MaxIterations       int
	ConfidenceThreshold float64
	Timeout             time.Duration
	EnableLearning      bool
}

// Input is one evaluation request.
type Input struct {
	Transcript    string
	Claims        []Claim
	PriorVerified map[string]string
	ProgressCheck bool
}

// Claim is a skill the user says they have.
type Claim struct {
	Name         string `json:"name"`
	ClaimedLevel string `json:"claimed_level"`
}

// Finding is one strength or improvement area named by the model.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

// EvaluationResult is the structured outcome of a run.
type EvaluationResult struct {
	OverallScore   float64            `json:"overall_score"`
	Strengths      []Finding          `json:"strengths"`
	Improvements   []Finding          `json:"improvements"`
	CategoryScores map[string]float64 `json:"category_scores"`
	Skills         []SkillAssessment  `json:"skills"`
}

// RunState threads iteration count, confidence, and the reasoning trace
// through the state machine as first-class values.
type RunState struct {
	State      State
	Iteration  int
	Confidence float64
	Trace      []string
	Started    time.Time
}

// RunMeta describes how a run ended.
type RunMeta struct {
	Terminal   State
	Iterations int
	Confidence float64
	Elapsed    time.Duration
	Trace      []string
}

// Loop drives the Planning/Executing/Reflecting cycle. It never retries a
// provider call internally; an unrecoverable provider error ends the run as
// failed and the caller's retry policy takes over.
type Loop struct {
	llm provider.LLMProvider
	cfg Config
	now func() time.Time
}

// NewLoop creates an analysis loop.
func NewLoop(llm provider.LLMProvider, cfg Config) *Loop {
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = 1
	}
	return &Loop{llm: llm, cfg: cfg, now: time.Now}
}

// SetClock injects the time source for tests.
func (l *Loop) SetClock(now func() time.Time) { l.now = now }

// modelEvaluation is the JSON shape the model is asked to produce.
type modelEvaluation struct {
	OverallScore   float64            `json:"overall_score"`
	Confidence     float64            `json:"confidence"`
	Strengths      []Finding          `json:"strengths"`
	Improvements   []Finding          `json:"improvements"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// Run executes the loop to a terminal state. The returned error is non-nil
// only for the failed terminal; timed-out runs still carry the best result
// produced so far.
func (l *Loop) Run(ctx context.Context, in Input) (*EvaluationResult, RunMeta, error) {
	rs := RunState{State: StatePlanning, Started: l.now()}
	var best *modelEvaluation

	for {
		switch rs.State {
		case StatePlanning:
			rs.Trace = append(rs.Trace, fmt.Sprintf("iteration %d: planning", rs.Iteration))
			rs.State = StateExecuting

		case StateExecuting:
			eval, err := l.execute(ctx, in, rs)
			if err != nil {
				rs.Trace = append(rs.Trace, "execution failed: "+err.Error())
				rs.State = StateFailed
				continue
			}
			best = eval
			rs.Confidence = eval.Confidence
			rs.State = StateReflecting

		case StateReflecting:
			rs.Trace = append(rs.Trace, fmt.Sprintf("iteration %d: confidence %.2f", rs.Iteration, rs.Confidence))
			elapsed := l.now().Sub(rs.Started)
			switch {
			case rs.Confidence >= l.cfg.ConfidenceThreshold:
				rs.State = StateDone
			case rs.Iteration+1 >= l.cfg.MaxIterations:
				rs.Trace = append(rs.Trace, "iteration budget exhausted, returning best effort")
				rs.State = StateDone
			case l.cfg.Timeout > 0 && elapsed >= l.cfg.Timeout:
				rs.Trace = append(rs.Trace, "deadline passed, returning best effort")
				rs.State = StateTimedOut
			default:
				rs.Iteration++
				rs.State = StatePlanning
			}

		case StateDone, StateTimedOut:
			meta := l.meta(rs)
			result := l.finalize(best, in)
			slog.Info("Analysis run finished", "terminal", rs.State, "iterations", meta.Iterations, "confidence", meta.Confidence)
			return result, meta, nil

		case StateFailed:
			meta := l.meta(rs)
			return nil, meta, fmt.Errorf("analysis run failed after %d iteration(s)", meta.Iterations)
		}
	}
}

func (l *Loop) meta(rs RunState) RunMeta {
	return RunMeta{
		Terminal:   rs.State,
		Iterations: rs.Iteration + 1,
		Confidence: rs.Confidence,
		Elapsed:    l.now().Sub(rs.Started),
		Trace:      rs.Trace,
	}
}

func (l *Loop) finalize(best *modelEvaluation, in Input) *EvaluationResult {
	if best == nil {
		best = &modelEvaluation{}
	}
	result := &EvaluationResult{
		OverallScore:   best.OverallScore,
		Strengths:      best.Strengths,
		Improvements:   best.Improvements,
		CategoryScores: best.CategoryScores,
	}
	result.Skills = MapSkills(result, in.Claims, in.PriorVerified, in.ProgressCheck)
	return result
}

// execute performs one model call and parses its JSON answer.
func (l *Loop) execute(ctx context.Context, in Input, rs RunState) (*modelEvaluation, error) {
	resp, err := l.llm.Chat(ctx, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: evaluatorSystemPrompt},
			{Role: "user", Content: l.buildPrompt(in, rs)},
		},
		MaxTokens:   2048,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	var eval modelEvaluation
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &eval); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}
	if eval.Confidence < 0 {
		eval.Confidence = 0
	}
	if eval.Confidence > 1 {
		eval.Confidence = 1
	}
	return &eval, nil
}

const evaluatorSystemPrompt = `You are an interview performance evaluator. ` +
	`Respond with a single JSON object: ` +
	`{"overall_score": 0-100, "confidence": 0-1, ` +
	`"strengths": [{"category", "description"}], ` +
	`"improvements": [{"category", "description"}], ` +
	`"category_scores": {"<category>": 0-100}}. No surrounding text.`

func (l *Loop) buildPrompt(in Input, rs RunState) string {
	var b strings.Builder
	b.WriteString("Evaluate this interview transcript.\n\nClaimed skills:\n")
	for _, c := range in.Claims {
		fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.ClaimedLevel)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(in.Transcript)
	if rs.Iteration > 0 {
		b.WriteString("\n\nRefine your previous analysis. Reasoning so far:\n")
		b.WriteString(strings.Join(rs.Trace, "\n"))
	}
	return b.String()
}

// extractJSON cuts the outermost JSON object out of a model answer that may
// be wrapped in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
