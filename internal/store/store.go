// Package store provides SQLite persistence for careerpilot: the event
// ledger, directives, applications, skills, and analysis run records.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op if column exists).
	_, _ = db.Exec(`ALTER TABLE events ADD COLUMN retried_by TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE applications ADD COLUMN ghosting_alerted BOOLEAN NOT NULL DEFAULT 0`)

	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for shared access.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// --- Event ledger ---

// InsertEvent appends a new pending ledger row. The event id must be unique;
// inserting a known id fails with the UNIQUE constraint, which callers treat
// as a duplicate publish.
func (s *Store) InsertEvent(evt *EventRecord) error {
	if evt.EventID == "" {
		evt.EventID = NewID()
	}
	if evt.Status == "" {
		evt.Status = EventPending
	}
	if evt.Payload == "" {
		evt.Payload = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO events (event_id, event_type, user_id, payload, status, attempt, retry_of)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.EventID, evt.EventType, evt.UserID, evt.Payload, evt.Status, evt.Attempt, evt.RetryOf,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const eventColumns = `id, event_id, event_type, COALESCE(user_id,''), COALESCE(payload,'{}'),
	status, COALESCE(error_text,''), attempt, COALESCE(retry_of,''), COALESCE(retried_by,''),
	next_retry_at, created_at, processed_at`

func scanEvent(row interface{ Scan(...any) error }) (*EventRecord, error) {
	var e EventRecord
	var nextRetryAt, processedAt sql.NullTime
	err := row.Scan(
		&e.ID, &e.EventID, &e.EventType, &e.UserID, &e.Payload,
		&e.Status, &e.ErrorText, &e.Attempt, &e.RetryOf, &e.RetriedBy,
		&nextRetryAt, &e.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if nextRetryAt.Valid {
		e.NextRetryAt = &nextRetryAt.Time
	}
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	return &e, nil
}

// GetEvent returns an event by event_id.
func (s *Store) GetEvent(eventID string) (*EventRecord, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	evt, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return evt, nil
}

// ShouldSkip reports whether the event has already been claimed or finished.
// A failed event also reads as skip: retry happens under a new event id.
func (s *Store) ShouldSkip(eventID string) (bool, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM events WHERE event_id = ?`, eventID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("should skip: %w", err)
	}
	return status != EventPending, nil
}

// ClaimEvent atomically moves a pending event to processing. The conditional
// UPDATE is the single concurrency primitive behind at-most-one effective
// execution: exactly one caller sees rows-affected == 1.
func (s *Store) ClaimEvent(eventID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE events SET status = ? WHERE event_id = ? AND status = ?`,
		EventProcessing, eventID, EventPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	return n == 1, nil
}

// MarkEventCompleted finalizes a processing event.
func (s *Store) MarkEventCompleted(eventID string) error {
	_, err := s.db.Exec(
		`UPDATE events SET status = ?, processed_at = datetime('now') WHERE event_id = ? AND status = ?`,
		EventCompleted, eventID, EventProcessing,
	)
	return err
}

// MarkEventFailed finalizes a processing event as failed and records when a
// retry may be published. Failed is terminal for this row.
func (s *Store) MarkEventFailed(eventID, errText string, nextRetryAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE events SET status = ?, error_text = ?, next_retry_at = ?, processed_at = datetime('now')
		 WHERE event_id = ? AND status = ?`,
		EventFailed, errText, nextRetryAt.UTC(), eventID, EventProcessing,
	)
	return err
}

// MarkEventInvalid finalizes a processing event whose input can never
// succeed. The attempt column is raised to the retry bound so the retry
// worker never picks the row up.
func (s *Store) MarkEventInvalid(eventID, errText string, maxAttempts int) error {
	_, err := s.db.Exec(
		`UPDATE events SET status = ?, error_text = ?, attempt = ?, processed_at = datetime('now')
		 WHERE event_id = ? AND status = ?`,
		EventFailed, errText, maxAttempts, eventID, EventProcessing,
	)
	return err
}

// ListRetryableEvents returns failed events whose backoff has elapsed and
// that have not yet spawned a retry, bounded by the attempt budget.
func (s *Store) ListRetryableEvents(maxAttempts, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM events
		WHERE status = ? AND COALESCE(retried_by,'') = '' AND attempt < ?
			AND (next_retry_at IS NULL OR next_retry_at <= datetime('now'))
		ORDER BY created_at ASC
		LIMIT ?`, EventFailed, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, rows.Err()
}

// MarkEventRetried links a failed event to the fresh event that retries it,
// so the retry worker never spawns a second copy.
func (s *Store) MarkEventRetried(eventID, newEventID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE events SET retried_by = ? WHERE event_id = ? AND COALESCE(retried_by,'') = ''`,
		newEventID, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("mark event retried: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListEvents returns events filtered by optional user and status.
func (s *Store) ListEvents(userID, status string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	args := []any{}
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, rows.Err()
}

// UpsertScheduledJob records the last run of a named periodic job.
func (s *Store) UpsertScheduledJob(name, status string, runAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_jobs (job_name, last_status, last_run_at, run_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(job_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = run_count + 1,
			updated_at = datetime('now')`,
		name, status, runAt.UTC(),
	)
	return err
}
