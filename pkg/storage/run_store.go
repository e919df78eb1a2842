package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateRun inserts a new PENDING run.
func (s *Store) CreateRun(run *TestRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	_, err := s.execRetry(
		`INSERT INTO test_runs (id, test_file_id, status, share_token, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TestFileID, run.Status, run.ShareToken, run.CreatedAt,
	)
	return err
}

// CreateStepResults bulk-inserts the run's PENDING step results.
func (s *Store) CreateStepResults(results []StepResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO step_results (id, test_run_id, test_step_id, status) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		status := r.Status
		if status == "" {
			status = StepStatusPending
		}
		if _, err := stmt.Exec(r.ID, r.TestRunID, r.TestStepID, status); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkRunRunning moves a PENDING run to RUNNING and stamps started_at.
func (s *Store) MarkRunRunning(runID string, startedAt time.Time) error {
	_, err := s.execRetry(
		`UPDATE test_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		RunStatusRunning, startedAt, runID, RunStatusPending,
	)
	return err
}

// FinalizeRun writes the run's terminal state. A run already PASSED or FAILED
// is never touched again, and a CANCELLED run keeps its status (the cancel
// endpoint may have finalized it first; that write is authoritative) while
// still accepting ended_at and video_url.
func (s *Store) FinalizeRun(runID, status string, endedAt time.Time, videoURL string) error {
	var video any
	if videoURL != "" {
		video = videoURL
	}
	_, err := s.execRetry(
		`UPDATE test_runs
		 SET status = CASE WHEN status = ? THEN ? ELSE ? END,
		     ended_at = COALESCE(ended_at, ?),
		     video_url = COALESCE(?, video_url)
		 WHERE id = ? AND status NOT IN (?, ?)`,
		RunStatusCancelled, RunStatusCancelled, status,
		endedAt, video, runID, RunStatusPassed, RunStatusFailed,
	)
	return err
}

// CancelRun moves a PENDING/RUNNING run straight to CANCELLED. Reports whether
// a row changed; terminal runs are left alone.
func (s *Store) CancelRun(runID string, endedAt time.Time) (bool, error) {
	res, err := s.execRetry(
		`UPDATE test_runs SET status = ?, ended_at = ? WHERE id = ? AND status IN (?, ?)`,
		RunStatusCancelled, endedAt, runID, RunStatusPending, RunStatusRunning,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRun fetches a run by id. Returns nil when not found.
func (s *Store) GetRun(runID string) (*TestRun, error) {
	return s.scanRun(s.db.QueryRow(
		`SELECT id, test_file_id, status, share_token, started_at, ended_at, video_url, created_at
		 FROM test_runs WHERE id = ?`, runID))
}

// GetRunByShareToken fetches a run by its public share token.
func (s *Store) GetRunByShareToken(token string) (*TestRun, error) {
	return s.scanRun(s.db.QueryRow(
		`SELECT id, test_file_id, status, share_token, started_at, ended_at, video_url, created_at
		 FROM test_runs WHERE share_token = ?`, token))
}

func (s *Store) scanRun(row *sql.Row) (*TestRun, error) {
	var run TestRun
	var started, ended sql.NullTime
	var video sql.NullString
	err := row.Scan(&run.ID, &run.TestFileID, &run.Status, &run.ShareToken,
		&started, &ended, &video, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if ended.Valid {
		run.EndedAt = &ended.Time
	}
	if video.Valid {
		run.VideoURL = video.String
	}
	return &run, nil
}

// ListRunsByTestFile returns the newest runs for a test file, newest first.
func (s *Store) ListRunsByTestFile(testFileID string, limit int) ([]TestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, test_file_id, status, share_token, started_at, ended_at, video_url, created_at
		 FROM test_runs WHERE test_file_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		testFileID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TestRun
	for rows.Next() {
		var run TestRun
		var started, ended sql.NullTime
		var video sql.NullString
		if err := rows.Scan(&run.ID, &run.TestFileID, &run.Status, &run.ShareToken,
			&started, &ended, &video, &run.CreatedAt); err != nil {
			return nil, err
		}
		if started.Valid {
			run.StartedAt = &started.Time
		}
		if ended.Valid {
			run.EndedAt = &ended.Time
		}
		if video.Valid {
			run.VideoURL = video.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkStepRunning moves a PENDING step result to RUNNING.
func (s *Store) MarkStepRunning(stepResultID string) error {
	_, err := s.execRetry(
		`UPDATE step_results SET status = ? WHERE id = ? AND status = ?`,
		StepStatusRunning, stepResultID, StepStatusPending,
	)
	return err
}

// CompleteStepResult records a step's final outcome.
func (s *Store) CompleteStepResult(r *StepResult) error {
	var errMsg, locatorUsed, screenshot any
	if r.Error != "" {
		errMsg = r.Error
	}
	if r.LocatorUsed != "" {
		locatorUsed = r.LocatorUsed
	}
	if r.ScreenshotURL != "" {
		screenshot = r.ScreenshotURL
	}
	_, err := s.execRetry(
		`UPDATE step_results SET status = ?, duration_ms = ?, error = ?, locator_used = ?, screenshot_url = ?
		 WHERE id = ?`,
		r.Status, r.DurationMs, errMsg, locatorUsed, screenshot, r.ID,
	)
	return err
}

// SkipPendingSteps marks every still-PENDING step of a run as SKIPPED.
func (s *Store) SkipPendingSteps(runID string) error {
	_, err := s.execRetry(
		`UPDATE step_results SET status = ? WHERE test_run_id = ? AND status = ?`,
		StepStatusSkipped, runID, StepStatusPending,
	)
	return err
}

// ListStepResults returns the run's step results annotated with their parent
// steps, ordered by step number.
func (s *Store) ListStepResults(runID string) ([]StepResultDetail, error) {
	rows, err := s.db.Query(
		`SELECT sr.id, sr.test_run_id, sr.test_step_id, sr.status, sr.duration_ms,
		        sr.error, sr.locator_used, sr.screenshot_url,
		        ts.step_number, ts.action, ts.description
		 FROM step_results sr
		 JOIN test_steps ts ON ts.id = sr.test_step_id
		 WHERE sr.test_run_id = ?
		 ORDER BY ts.step_number ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StepResultDetail
	for rows.Next() {
		var d StepResultDetail
		var duration sql.NullInt64
		var errMsg, locatorUsed, screenshot sql.NullString
		if err := rows.Scan(&d.ID, &d.TestRunID, &d.TestStepID, &d.Status, &duration,
			&errMsg, &locatorUsed, &screenshot,
			&d.StepNumber, &d.Action, &d.Description); err != nil {
			return nil, err
		}
		if duration.Valid {
			d.DurationMs = duration.Int64
		}
		if errMsg.Valid {
			d.Error = errMsg.String
		}
		if locatorUsed.Valid {
			d.LocatorUsed = locatorUsed.String
		}
		if screenshot.Valid {
			d.ScreenshotURL = screenshot.String
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// FailOrphanedRuns fails every run left PENDING/RUNNING by a previous process,
// recording one explanatory error per run. Called once at startup so crashed
// processes do not leave runs stuck forever.
func (s *Store) FailOrphanedRuns(endedAt time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM test_runs WHERE status IN (?, ?)`,
		RunStatusPending, RunStatusRunning,
	)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.execRetry(
			`UPDATE test_runs SET status = ?, ended_at = ? WHERE id = ? AND status IN (?, ?)`,
			RunStatusFailed, endedAt, id, RunStatusPending, RunStatusRunning,
		); err != nil {
			return ids, fmt.Errorf("fail orphaned run %s: %w", id, err)
		}
		if err := s.SkipPendingSteps(id); err != nil {
			return ids, fmt.Errorf("skip steps of orphaned run %s: %w", id, err)
		}
		if err := s.AppendTestErrors(id, []TestError{{
			Type:      ErrorTypeOther,
			Message:   "test run orphaned by process restart",
			Timestamp: endedAt,
		}}); err != nil {
			return ids, fmt.Errorf("record orphan error for run %s: %w", id, err)
		}
	}
	return ids, nil
}
