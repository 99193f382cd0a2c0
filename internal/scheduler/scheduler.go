// Package scheduler runs the periodic maintenance jobs: the ghosting sweep
// and the event retry tick. Jobs are interval-based, bounded per category
// by counting semaphores, and guarded across processes by a file lock.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/careerpilot/careerpilot/internal/config"
	"github.com/careerpilot/careerpilot/internal/store"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	CategoryLLM     JobCategory = "llm"
	CategoryDefault JobCategory = "default"
)

// Job is a schedulable unit of work.
type Job struct {
	Name     string
	Every    time.Duration
	Category JobCategory
	Fn       func(ctx context.Context) error
}

// Scheduler manages job registration, tick dispatch, and concurrency
// control.
type Scheduler struct {
	cfg        config.SchedulerConfig
	store      *store.Store
	mu         sync.RWMutex
	jobs       map[string]*Job
	lastRun    map[string]time.Time
	semaphores map[JobCategory]*Semaphore
	lock       *FileLock
	now        func() time.Time
}

const tickInterval = 30 * time.Second

// New creates a Scheduler. The store records job run bookkeeping.
func New(cfg config.SchedulerConfig, st *store.Store) *Scheduler {
	if cfg.MaxConcLLM <= 0 {
		cfg.MaxConcLLM = 3
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = 5
	}
	if cfg.LockPath == "" {
		home, _ := os.UserHomeDir()
		cfg.LockPath = filepath.Join(home, ".careerpilot", "scheduler.lock")
	}
	return &Scheduler{
		cfg:     cfg,
		store:   st,
		jobs:    make(map[string]*Job),
		lastRun: make(map[string]time.Time),
		semaphores: map[JobCategory]*Semaphore{
			CategoryLLM:     NewSemaphore(cfg.MaxConcLLM),
			CategoryDefault: NewSemaphore(cfg.MaxConcDefault),
		},
		lock: NewFileLock(cfg.LockPath),
		now:  time.Now,
	}
}

// SetClock injects the time source for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Register adds a job. A job with no interval inherits the sweep interval.
func (s *Scheduler) Register(job *Job) {
	if job.Every <= 0 {
		job.Every = s.cfg.SweepInterval
	}
	if job.Every <= 0 {
		job.Every = time.Hour
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "every", job.Every, "category", job.Category)
}

// Jobs returns a snapshot of the registered jobs.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Run starts the tick loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "jobs", len(s.jobs), "tick", tickInterval)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every due job once. Exported so tests and the CLI can
// drive the scheduler without the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Scheduler tick skipped: lock held by another process")
		return
	}
	defer s.lock.Unlock()

	now := s.now()
	for _, job := range s.due(now) {
		s.dispatch(ctx, job, now)
	}
}

func (s *Scheduler) due(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for name, job := range s.jobs {
		last, ran := s.lastRun[name]
		if ran && now.Sub(last) < job.Every {
			continue
		}
		s.lastRun[name] = now
		out = append(out, job)
	}
	return out
}

func (s *Scheduler) dispatch(ctx context.Context, job *Job, now time.Time) {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryDefault]
	}
	if !sem.TryAcquire() {
		slog.Warn("Scheduler job skipped: concurrency limit", "job", job.Name, "category", job.Category)
		s.logJobRun(job.Name, "skipped_concurrency", now)
		return
	}

	go func() {
		defer sem.Release()
		if err := job.Fn(ctx); err != nil {
			slog.Error("Scheduler job failed", "job", job.Name, "error", err)
			s.logJobRun(job.Name, "failed", now)
			return
		}
		s.logJobRun(job.Name, "completed", now)
	}()
}

// logJobRun persists the run status to the scheduled_jobs table, best-effort.
func (s *Scheduler) logJobRun(name, status string, tick time.Time) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertScheduledJob(name, status, tick); err != nil {
		slog.Debug("Failed to record job run", "job", name, "error", err)
	}
}
