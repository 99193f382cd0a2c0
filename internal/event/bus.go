package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/careerpilot/careerpilot/internal/store"
)

// Status is the discriminated outcome of handling one event. Skip and
// Blocked are defined control-flow outcomes, not errors; callers branch on
// them explicitly.
type Status int

const (
	// Proceed means the handler executed its side effects.
	Proceed Status = iota
	// Skip means the ledger short-circuited a duplicate; no side effects ran.
	Skip
	// Blocked means a directive gate stopped the operation; no side effects ran.
	Blocked
	// Failed means a transient execution failure; eligible for bounded retry
	// under a fresh event id.
	Failed
	// Invalid means the payload was malformed; terminal, never retried.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Blocked:
		return "blocked"
	case Failed:
		return "failed"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Result is what a handler returns.
type Result struct {
	Status Status
	Reason string
	Err    error
}

// Ok is the plain success result.
func Ok() Result { return Result{Status: Proceed} }

// Blame wraps a transient handler error.
func Blame(err error) Result { return Result{Status: Failed, Err: err} }

// Handler processes one decoded event. It must not perform side effects when
// it returns Skip or Blocked.
type Handler func(ctx context.Context, evt Envelope) Result

// Options configures the Bus.
type Options struct {
	MaxAttempts int
	HardTimeout time.Duration
}

// Bus persists events to the ledger and dispatches them asynchronously to
// the registered handler for their type. Each event is processed as an
// independent unit of work; ordering across events is never guaranteed.
type Bus struct {
	store       *store.Store
	maxAttempts int
	hardTimeout time.Duration

	mu       sync.RWMutex
	handlers map[Type]Handler

	wg sync.WaitGroup
}

// NewBus creates a Bus over the given store.
func NewBus(st *store.Store, opts Options) *Bus {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = 2 * time.Minute
	}
	return &Bus{
		store:       st,
		maxAttempts: opts.MaxAttempts,
		hardTimeout: opts.HardTimeout,
		handlers:    make(map[Type]Handler),
	}
}

// Handle registers the handler for an event type. One handler per type: the
// catalogue is dispatched exhaustively, not fanned out.
func (b *Bus) Handle(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[t]; dup {
		panic(fmt.Sprintf("event: handler already registered for %s", t))
	}
	b.handlers[t] = h
}

// Publish validates and appends a new event to the ledger, then dispatches
// it asynchronously. Returns the event id.
func (b *Bus) Publish(ctx context.Context, t Type, userID string, payload any) (string, error) {
	return b.publish(ctx, t, userID, payload, 0, "")
}

// PublishWithID publishes under a caller-chosen event id, used when the
// trigger itself carries a natural idempotency key. Publishing a known id
// returns the existing record's id without error: the ledger already holds it.
func (b *Bus) PublishWithID(ctx context.Context, eventID string, t Type, userID string, payload any) (string, error) {
	return b.publishRecord(ctx, eventID, t, userID, payload, 0, "")
}

func (b *Bus) publish(ctx context.Context, t Type, userID string, payload any, attempt int, retryOf string) (string, error) {
	return b.publishRecord(ctx, store.NewID(), t, userID, payload, attempt, retryOf)
}

func (b *Bus) publishRecord(ctx context.Context, eventID string, t Type, userID string, payload any, attempt int, retryOf string) (string, error) {
	if !Valid(t) {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPayload, t, err)
	}
	// Validate the payload against the type's schema before it enters the ledger.
	if _, err := DecodePayload(t, raw); err != nil {
		return "", err
	}

	rec := &store.EventRecord{
		EventID:   eventID,
		EventType: string(t),
		UserID:    userID,
		Payload:   string(raw),
		Attempt:   attempt,
		RetryOf:   retryOf,
	}
	if err := b.store.InsertEvent(rec); err != nil {
		// A duplicate publish under the same id is benign: the ledger already
		// tracks it and at most one consumer will ever claim it.
		if existing, getErr := b.store.GetEvent(eventID); getErr == nil {
			slog.Debug("Duplicate publish short-circuited", "event_id", eventID, "status", existing.Status)
			b.dispatch(eventID)
			return eventID, nil
		}
		return "", err
	}

	slog.Info("Event published", "event_id", eventID, "type", t, "user_id", userID, "attempt", attempt)
	b.dispatch(eventID)
	return eventID, nil
}

func (b *Bus) dispatch(eventID string) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Process(context.Background(), eventID)
	}()
}

// Process claims and executes one ledgered event. It is safe to call
// concurrently for the same id: the conditional claim guarantees at most one
// effective execution. The returned result reports what happened.
func (b *Bus) Process(ctx context.Context, eventID string) Result {
	rec, err := b.store.GetEvent(eventID)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}

	skip, err := b.store.ShouldSkip(eventID)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}
	if skip {
		return Result{Status: Skip, Reason: "already " + rec.Status}
	}

	claimed, err := b.store.ClaimEvent(eventID)
	if err != nil {
		return Result{Status: Failed, Err: err}
	}
	if !claimed {
		// Lost the race: another consumer owns this event. Abort with no
		// side effects.
		return Result{Status: Skip, Reason: "claim lost"}
	}

	res := b.execute(ctx, rec)
	switch res.Status {
	case Proceed, Blocked, Skip:
		// Blocked and Skip are defined outcomes; the event is done either way.
		if err := b.store.MarkEventCompleted(eventID); err != nil {
			slog.Error("Failed to mark event completed", "event_id", eventID, "error", err)
		}
	case Invalid:
		// Malformed input is terminal; never retried.
		if err := b.store.MarkEventInvalid(eventID, res.Reason, b.maxAttempts); err != nil {
			slog.Error("Failed to mark event invalid", "event_id", eventID, "error", err)
		}
	case Failed:
		errText := res.Reason
		if res.Err != nil {
			errText = res.Err.Error()
		}
		if err := b.store.MarkEventFailed(eventID, errText, Backoff(rec.Attempt)); err != nil {
			slog.Error("Failed to mark event failed", "event_id", eventID, "error", err)
		}
		slog.Warn("Event execution failed", "event_id", eventID, "type", rec.EventType, "attempt", rec.Attempt, "error", errText)
	}
	return res
}

func (b *Bus) execute(ctx context.Context, rec *store.EventRecord) Result {
	t := Type(rec.EventType)
	payload, err := DecodePayload(t, []byte(rec.Payload))
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrUnknownType) {
			return Result{Status: Invalid, Reason: err.Error()}
		}
		return Result{Status: Failed, Err: err}
	}

	b.mu.RLock()
	handler := b.handlers[t]
	b.mu.RUnlock()
	if handler == nil {
		// No consumer for this type is a wiring defect, not a transient fault.
		return Result{Status: Invalid, Reason: "no handler for " + rec.EventType}
	}

	ctx, cancel := context.WithTimeout(ctx, b.hardTimeout)
	defer cancel()

	return handler(ctx, Envelope{
		EventID: rec.EventID,
		Type:    t,
		UserID:  rec.UserID,
		Attempt: rec.Attempt,
		RetryOf: rec.RetryOf,
		Payload: payload,
	})
}

// Republish spawns a fresh event retrying a failed one. The failed row is
// linked first so two workers never spawn two retries.
func (b *Bus) Republish(ctx context.Context, failed *store.EventRecord) (string, error) {
	newID := store.NewID()
	won, err := b.store.MarkEventRetried(failed.EventID, newID)
	if err != nil {
		return "", err
	}
	if !won {
		return "", nil
	}
	rec := &store.EventRecord{
		EventID:   newID,
		EventType: failed.EventType,
		UserID:    failed.UserID,
		Payload:   failed.Payload,
		Attempt:   failed.Attempt + 1,
		RetryOf:   failed.EventID,
	}
	if err := b.store.InsertEvent(rec); err != nil {
		return "", err
	}
	slog.Info("Event retried", "event_id", newID, "retry_of", failed.EventID, "attempt", rec.Attempt)
	b.dispatch(newID)
	return newID, nil
}

// MaxAttempts returns the configured retry budget.
func (b *Bus) MaxAttempts() int { return b.maxAttempts }

// Wait blocks until all in-flight dispatches finish. Used by tests and
// shutdown.
func (b *Bus) Wait() { b.wg.Wait() }

// Backoff calculates the next retry time using exponential backoff.
// Returns min(30s * 2^attempt, 5min) from now.
func Backoff(attempt int) time.Time {
	delay := time.Duration(30*math.Pow(2, float64(attempt))) * time.Second
	maxDelay := 5 * time.Minute
	if delay > maxDelay {
		delay = maxDelay
	}
	return time.Now().Add(delay)
}
