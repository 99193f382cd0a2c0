package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/careerpilot/careerpilot/internal/store"
)

// RetryWorker polls the ledger for failed events whose backoff has elapsed
// and republishes each under a fresh event id. Retry never mutates the
// failed row's status; the chain is attempt-bounded via the attempt column.
type RetryWorker struct {
	store    *store.Store
	bus      *Bus
	interval time.Duration
}

// NewRetryWorker creates a retry worker with the given poll interval.
func NewRetryWorker(st *store.Store, b *Bus, interval time.Duration) *RetryWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RetryWorker{store: st, bus: b, interval: interval}
}

// Run starts the polling loop. Blocks until the context is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	slog.Info("Event retry worker started", "interval", w.interval, "max_attempts", w.bus.MaxAttempts())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event retry worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll performs one retry sweep.
func (w *RetryWorker) Poll(ctx context.Context) {
	events, err := w.store.ListRetryableEvents(w.bus.MaxAttempts(), 10)
	if err != nil {
		slog.Error("Retry worker poll failed", "error", err)
		return
	}
	for i := range events {
		evt := events[i]
		newID, err := w.bus.Republish(ctx, &evt)
		if err != nil {
			slog.Error("Retry republish failed", "event_id", evt.EventID, "error", err)
			continue
		}
		if newID == "" {
			continue // another worker got there first
		}
	}
}
