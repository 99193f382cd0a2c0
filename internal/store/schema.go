package store

import (
	"time"
)

// EventRecord is one row of the idempotency ledger. Status only moves
// forward: pending -> processing -> completed|failed. A failed event is
// never flipped back; a retry is a fresh row pointing at it via retry_of.
type EventRecord struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	UserID      string     `json:"user_id"`
	Payload     string     `json:"payload"` // JSON, schema keyed by event_type
	Status      string     `json:"status"`
	ErrorText   string     `json:"error_text,omitempty"`
	Attempt     int        `json:"attempt"`
	RetryOf     string     `json:"retry_of,omitempty"`
	RetriedBy   string     `json:"retried_by,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
)

// DirectiveRecord is a strategist instruction. Blocking types gate agent
// operations until the directive reaches a terminal state.
type DirectiveRecord struct {
	ID             int64      `json:"id"`
	DirectiveID    string     `json:"directive_id"`
	UserID         string     `json:"user_id"`
	Type           string     `json:"type"`
	Priority       string     `json:"priority"`
	Status         string     `json:"status"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ActionRequired string     `json:"action_required,omitempty"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

const (
	DirectivePauseApplications = "pause_applications"
	DirectiveFocusShift        = "focus_shift"
	DirectiveSkillPriority     = "skill_priority"
	DirectiveResumeRewrite     = "resume_rewrite"

	DirectivePending   = "pending"
	DirectiveActive    = "active"
	DirectiveCompleted = "completed"
	DirectiveCancelled = "cancelled"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// DirectiveLogRecord is one execution attempt against a directive,
// created whenever completion or cancellation is attempted.
type DirectiveLogRecord struct {
	ID          int64      `json:"id"`
	LogID       string     `json:"log_id"`
	DirectiveID string     `json:"directive_id"`
	Executor    string     `json:"executor"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Success     *bool      `json:"success,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// ApplicationRecord is a tracked job application.
type ApplicationRecord struct {
	ID              int64     `json:"id"`
	ApplicationID   string    `json:"application_id"`
	UserID          string    `json:"user_id"`
	JobTitle        string    `json:"job_title"`
	Company         string    `json:"company"`
	Platform        string    `json:"platform"`
	Status          string    `json:"status"`
	GhostingAlerted bool      `json:"ghosting_alerted"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	ApplicationApplied   = "applied"
	ApplicationScreening = "screening"
	ApplicationInterview = "interview"
	ApplicationOffer     = "offer"
	ApplicationRejected  = "rejected"
	ApplicationWithdrawn = "withdrawn"
)

// SkillRecord tracks claimed vs verified proficiency for one user skill.
type SkillRecord struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	ClaimedLevel  string    `json:"claimed_level"`
	VerifiedLevel string    `json:"verified_level,omitempty"`
	Confidence    float64   `json:"confidence"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VerificationRecord is the persisted result of one interview evaluation.
// interview_id is UNIQUE: the ledger plus this constraint guarantee a
// retried evaluation cannot produce a second record.
type VerificationRecord struct {
	ID           int64     `json:"id"`
	InterviewID  string    `json:"interview_id"`
	UserID       string    `json:"user_id"`
	OverallScore float64   `json:"overall_score"`
	Result       string    `json:"result"` // JSON EvaluationResult
	Iterations   int       `json:"iterations"`
	Confidence   float64   `json:"confidence"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// AgentRunRecord is the audit trail for one analysis loop execution.
type AgentRunRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	InputRef   string    `json:"input_ref"`
	Status     string    `json:"status"`
	Iterations int       `json:"iterations"`
	Confidence float64   `json:"confidence"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Trace      string    `json:"trace"` // JSON array of reasoning steps
	CreatedAt  time.Time `json:"created_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT UNIQUE NOT NULL,
	event_type TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	error_text TEXT DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 0,
	retry_of TEXT DEFAULT '',
	retried_by TEXT DEFAULT '',
	next_retry_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);
CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_retry ON events(status, next_retry_at);

CREATE TABLE IF NOT EXISTS directives (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	directive_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'medium',
	status TEXT NOT NULL DEFAULT 'pending',
	title TEXT NOT NULL DEFAULT '',
	description TEXT DEFAULT '',
	action_required TEXT DEFAULT '',
	issued_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_directives_user ON directives(user_id, status);
CREATE INDEX IF NOT EXISTS idx_directives_type ON directives(type);

CREATE TABLE IF NOT EXISTS directive_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	log_id TEXT UNIQUE NOT NULL,
	directive_id TEXT NOT NULL,
	executor TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME,
	success BOOLEAN,
	details TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_directive_logs_directive ON directive_logs(directive_id);

CREATE TABLE IF NOT EXISTS applications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	application_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	job_title TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'applied',
	ghosting_alerted BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_applications_user ON applications(user_id, status);

CREATE TABLE IF NOT EXISTS skills (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT DEFAULT '',
	claimed_level TEXT NOT NULL DEFAULT 'learning',
	verified_level TEXT DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS verifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	interview_id TEXT UNIQUE NOT NULL,
	user_id TEXT NOT NULL,
	overall_score REAL NOT NULL DEFAULT 0,
	result TEXT NOT NULL DEFAULT '{}',
	iterations INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_verifications_user ON verifications(user_id);

CREATE TABLE IF NOT EXISTS agent_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT UNIQUE NOT NULL,
	input_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	trace TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scheduled_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_name TEXT UNIQUE NOT NULL,
	last_status TEXT DEFAULT '',
	last_run_at DATETIME,
	run_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
