package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// --- Applications ---

const applicationColumns = `id, application_id, user_id, COALESCE(job_title,''),
	COALESCE(company,''), COALESCE(platform,''), status, ghosting_alerted,
	created_at, updated_at`

func scanApplication(row interface{ Scan(...any) error }) (*ApplicationRecord, error) {
	var a ApplicationRecord
	err := row.Scan(
		&a.ID, &a.ApplicationID, &a.UserID, &a.JobTitle,
		&a.Company, &a.Platform, &a.Status, &a.GhostingAlerted,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertApplication creates an application record.
func (s *Store) InsertApplication(a *ApplicationRecord) (*ApplicationRecord, error) {
	if a.ApplicationID == "" {
		a.ApplicationID = NewID()
	}
	if a.Status == "" {
		a.Status = ApplicationApplied
	}
	_, err := s.db.Exec(`
		INSERT INTO applications (application_id, user_id, job_title, company, platform, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ApplicationID, a.UserID, a.JobTitle, a.Company, strings.ToLower(a.Platform), a.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}
	return s.GetApplication(a.ApplicationID)
}

// GetApplication returns an application by application_id.
func (s *Store) GetApplication(applicationID string) (*ApplicationRecord, error) {
	row := s.db.QueryRow(`SELECT `+applicationColumns+` FROM applications WHERE application_id = ?`, applicationID)
	a, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return a, nil
}

// ListApplications returns a user's applications, optionally filtered by status.
func (s *Store) ListApplications(userID, status string) ([]ApplicationRecord, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []ApplicationRecord
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListApplicationsByStatus returns all applications in the given status
// across users, oldest activity first. Used by the sentinel sweep.
func (s *Store) ListApplicationsByStatus(status string) ([]ApplicationRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+applicationColumns+` FROM applications WHERE status = ? ORDER BY updated_at ASC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("list applications by status: %w", err)
	}
	defer rows.Close()

	var out []ApplicationRecord
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateApplicationStatus advances an application's status and touches updated_at.
func (s *Store) UpdateApplicationStatus(applicationID, status string) error {
	res, err := s.db.Exec(
		`UPDATE applications SET status = ?, updated_at = datetime('now') WHERE application_id = ?`,
		status, applicationID,
	)
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("application %s: %w", applicationID, ErrNotFound)
	}
	return nil
}

// MarkGhostingAlerted flags an application so the sentinel alerts only once.
// Returns false when the flag was already set.
func (s *Store) MarkGhostingAlerted(applicationID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE applications SET ghosting_alerted = 1 WHERE application_id = ? AND ghosting_alerted = 0`,
		applicationID,
	)
	if err != nil {
		return false, fmt.Errorf("mark ghosting alerted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CountRecentRejections counts a user's applications rejected since the cutoff.
func (s *Store) CountRecentRejections(userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM applications WHERE user_id = ? AND status = ? AND updated_at >= ?`,
		userID, ApplicationRejected, since.UTC(),
	).Scan(&n)
	return n, err
}

// --- Skills ---

// UpsertSkill creates or refreshes a user skill row, preserving any existing
// verified level when the incoming record carries none.
func (s *Store) UpsertSkill(sk *SkillRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO skills (user_id, name, category, claimed_level, verified_level, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			category = excluded.category,
			claimed_level = excluded.claimed_level,
			verified_level = CASE WHEN excluded.verified_level != '' THEN excluded.verified_level ELSE verified_level END,
			confidence = CASE WHEN excluded.verified_level != '' THEN excluded.confidence ELSE confidence END,
			updated_at = datetime('now')`,
		sk.UserID, sk.Name, sk.Category, sk.ClaimedLevel, sk.VerifiedLevel, sk.Confidence,
	)
	if err != nil {
		return fmt.Errorf("upsert skill: %w", err)
	}
	return nil
}

// UpdateVerifiedLevel records the outcome of an interview verification.
func (s *Store) UpdateVerifiedLevel(userID, name, level string, confidence float64) error {
	_, err := s.db.Exec(`
		INSERT INTO skills (user_id, name, claimed_level, verified_level, confidence)
		VALUES (?, ?, 'learning', ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			verified_level = excluded.verified_level,
			confidence = excluded.confidence,
			updated_at = datetime('now')`,
		userID, name, level, confidence,
	)
	if err != nil {
		return fmt.Errorf("update verified level: %w", err)
	}
	return nil
}

// ListSkills returns all skills for a user.
func (s *Store) ListSkills(userID string) ([]SkillRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, COALESCE(category,''), claimed_level, COALESCE(verified_level,''), confidence, updated_at
		FROM skills WHERE user_id = ? ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []SkillRecord
	for rows.Next() {
		var sk SkillRecord
		if err := rows.Scan(&sk.ID, &sk.UserID, &sk.Name, &sk.Category, &sk.ClaimedLevel, &sk.VerifiedLevel, &sk.Confidence, &sk.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// --- Verifications & agent runs ---

// InsertVerification persists an interview evaluation result. Inserting a
// second record for the same interview fails on the UNIQUE constraint; the
// ledger normally prevents ever getting that far.
func (s *Store) InsertVerification(v *VerificationRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO verifications (interview_id, user_id, overall_score, result, iterations, confidence, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.InterviewID, v.UserID, v.OverallScore, v.Result, v.Iterations, v.Confidence, v.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// GetVerificationByInterview returns the verification for an interview, or
// ErrNotFound.
func (s *Store) GetVerificationByInterview(interviewID string) (*VerificationRecord, error) {
	var v VerificationRecord
	err := s.db.QueryRow(`
		SELECT id, interview_id, user_id, overall_score, COALESCE(result,'{}'), iterations, confidence, duration_ms, created_at
		FROM verifications WHERE interview_id = ?`, interviewID).Scan(
		&v.ID, &v.InterviewID, &v.UserID, &v.OverallScore, &v.Result, &v.Iterations, &v.Confidence, &v.DurationMs, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	return &v, nil
}

// CountVerifications returns the number of verifications for an interview.
func (s *Store) CountVerifications(interviewID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM verifications WHERE interview_id = ?`, interviewID).Scan(&n)
	return n, err
}

// InsertAgentRun records the metadata of one analysis loop execution.
func (s *Store) InsertAgentRun(r *AgentRunRecord) error {
	if r.RunID == "" {
		r.RunID = NewID()
	}
	if r.Trace == "" {
		r.Trace = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO agent_runs (run_id, input_ref, status, iterations, confidence, elapsed_ms, trace)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.InputRef, r.Status, r.Iterations, r.Confidence, r.ElapsedMs, r.Trace,
	)
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}
