package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDirectiveTerminal is returned when completing or cancelling a directive
// that already reached a terminal state.
var ErrDirectiveTerminal = errors.New("directive already in terminal state")

const directiveColumns = `id, directive_id, user_id, type, priority, status,
	COALESCE(title,''), COALESCE(description,''), COALESCE(action_required,''),
	issued_at, expires_at`

func scanDirective(row interface{ Scan(...any) error }) (*DirectiveRecord, error) {
	var d DirectiveRecord
	var expiresAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.DirectiveID, &d.UserID, &d.Type, &d.Priority, &d.Status,
		&d.Title, &d.Description, &d.ActionRequired,
		&d.IssuedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		d.ExpiresAt = &expiresAt.Time
	}
	return &d, nil
}

// InsertDirective creates a pending directive. DirectiveID is generated if empty.
func (s *Store) InsertDirective(d *DirectiveRecord) (*DirectiveRecord, error) {
	if d.DirectiveID == "" {
		d.DirectiveID = NewID()
	}
	if d.Status == "" {
		d.Status = DirectivePending
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	var expiresAt any
	if d.ExpiresAt != nil {
		expiresAt = d.ExpiresAt.UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO directives (directive_id, user_id, type, priority, status, title, description, action_required, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DirectiveID, d.UserID, d.Type, d.Priority, d.Status,
		d.Title, d.Description, d.ActionRequired, expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert directive: %w", err)
	}
	return s.GetDirective(d.DirectiveID)
}

// GetDirective returns a directive by directive_id.
func (s *Store) GetDirective(directiveID string) (*DirectiveRecord, error) {
	row := s.db.QueryRow(`SELECT `+directiveColumns+` FROM directives WHERE directive_id = ?`, directiveID)
	d, err := scanDirective(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get directive: %w", err)
	}
	return d, nil
}

// ListDirectives returns directives for a user, newest first, optionally
// filtered by status.
func (s *Store) ListDirectives(userID, status string, limit int) ([]DirectiveRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + directiveColumns + ` FROM directives WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY issued_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list directives: %w", err)
	}
	defer rows.Close()
	return scanDirectives(rows)
}

// ListBlockingDirectives returns non-terminal, non-expired directives of the
// given types for a user, ordered by priority descending then issued_at
// descending. The ordering is the documented tie-break rule: callers take
// the first row as the governing directive.
func (s *Store) ListBlockingDirectives(userID string, types []string, now time.Time) ([]DirectiveRecord, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query := `SELECT ` + directiveColumns + ` FROM directives
		WHERE user_id = ? AND status IN (?, ?)
			AND (expires_at IS NULL OR expires_at > ?)
			AND type IN (`
	args := []any{userID, DirectivePending, DirectiveActive, now.UTC()}
	for i, t := range types {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, t)
	}
	query += `)
		ORDER BY CASE priority
			WHEN 'critical' THEN 4
			WHEN 'high' THEN 3
			WHEN 'medium' THEN 2
			ELSE 1
		END DESC, issued_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocking directives: %w", err)
	}
	defer rows.Close()
	return scanDirectives(rows)
}

func scanDirectives(rows *sql.Rows) ([]DirectiveRecord, error) {
	var out []DirectiveRecord
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ActivateDirective moves a pending directive to active. Activating an
// already-active directive is a no-op.
func (s *Store) ActivateDirective(directiveID string) error {
	_, err := s.db.Exec(
		`UPDATE directives SET status = ? WHERE directive_id = ? AND status = ?`,
		DirectiveActive, directiveID, DirectivePending,
	)
	return err
}

// FinalizeDirective moves a directive to a terminal state. Terminal states
// are final: a second completion or cancellation returns ErrDirectiveTerminal.
func (s *Store) FinalizeDirective(directiveID, terminalStatus string) error {
	if terminalStatus != DirectiveCompleted && terminalStatus != DirectiveCancelled {
		return fmt.Errorf("not a terminal directive status: %s", terminalStatus)
	}
	res, err := s.db.Exec(
		`UPDATE directives SET status = ? WHERE directive_id = ? AND status IN (?, ?)`,
		terminalStatus, directiveID, DirectivePending, DirectiveActive,
	)
	if err != nil {
		return fmt.Errorf("finalize directive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize directive: %w", err)
	}
	if n == 0 {
		if _, err := s.GetDirective(directiveID); err != nil {
			return err
		}
		return ErrDirectiveTerminal
	}
	return nil
}

// --- Execution logs ---

// InsertDirectiveLog opens an execution log entry for a directive.
func (s *Store) InsertDirectiveLog(directiveID, executor string) (*DirectiveLogRecord, error) {
	logID := NewID()
	_, err := s.db.Exec(`
		INSERT INTO directive_logs (log_id, directive_id, executor)
		VALUES (?, ?, ?)`,
		logID, directiveID, executor,
	)
	if err != nil {
		return nil, fmt.Errorf("insert directive log: %w", err)
	}
	return s.GetDirectiveLog(logID)
}

// CloseDirectiveLog records the outcome of an execution attempt.
func (s *Store) CloseDirectiveLog(logID string, success bool, details string) error {
	res, err := s.db.Exec(`
		UPDATE directive_logs SET completed_at = datetime('now'), success = ?, details = ?
		WHERE log_id = ? AND completed_at IS NULL`,
		success, details, logID,
	)
	if err != nil {
		return fmt.Errorf("close directive log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("directive log %s: %w", logID, ErrNotFound)
	}
	return nil
}

// GetDirectiveLog returns a log entry by log_id.
func (s *Store) GetDirectiveLog(logID string) (*DirectiveLogRecord, error) {
	var l DirectiveLogRecord
	var completedAt sql.NullTime
	var success sql.NullBool
	err := s.db.QueryRow(`
		SELECT id, log_id, directive_id, COALESCE(executor,''), started_at, completed_at, success, COALESCE(details,'')
		FROM directive_logs WHERE log_id = ?`, logID).Scan(
		&l.ID, &l.LogID, &l.DirectiveID, &l.Executor, &l.StartedAt, &completedAt, &success, &l.Details,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get directive log: %w", err)
	}
	if completedAt.Valid {
		l.CompletedAt = &completedAt.Time
	}
	if success.Valid {
		l.Success = &success.Bool
	}
	return &l, nil
}

// ListDirectiveLogs returns all execution log entries for a directive.
func (s *Store) ListDirectiveLogs(directiveID string) ([]DirectiveLogRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, log_id, directive_id, COALESCE(executor,''), started_at, completed_at, success, COALESCE(details,'')
		FROM directive_logs WHERE directive_id = ? ORDER BY started_at ASC`, directiveID)
	if err != nil {
		return nil, fmt.Errorf("list directive logs: %w", err)
	}
	defer rows.Close()

	var out []DirectiveLogRecord
	for rows.Next() {
		var l DirectiveLogRecord
		var completedAt sql.NullTime
		var success sql.NullBool
		if err := rows.Scan(&l.ID, &l.LogID, &l.DirectiveID, &l.Executor, &l.StartedAt, &completedAt, &success, &l.Details); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			l.CompletedAt = &completedAt.Time
		}
		if success.Valid {
			l.Success = &success.Bool
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
