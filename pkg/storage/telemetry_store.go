package storage

import (
	"database/sql"
	"time"
)

// AppendTestErrors bulk-inserts captured errors for a run, preserving capture
// order. Telemetry is persisted once at finalization, not incrementally.
func (s *Store) AppendTestErrors(runID string, errs []TestError) error {
	if len(errs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO test_errors (test_run_id, type, message, url, context, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range errs {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		var url, eventContext any
		if e.URL != "" {
			url = e.URL
		}
		if e.Context != "" {
			eventContext = e.Context
		}
		if _, err := stmt.Exec(runID, e.Type, e.Message, url, eventContext, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendNetworkRequests bulk-inserts the run's tracked requests.
func (s *Store) AppendNetworkRequests(runID string, reqs []NetworkRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO network_requests
		 (test_run_id, method, url, resource_type, status, status_text, duration_ms, request_size, response_size, failed, error_text, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range reqs {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		var status, statusText, errText any
		if r.Status != 0 {
			status = r.Status
		}
		if r.StatusText != "" {
			statusText = r.StatusText
		}
		if r.ErrorText != "" {
			errText = r.ErrorText
		}
		failed := 0
		if r.Failed {
			failed = 1
		}
		if _, err := stmt.Exec(runID, r.Method, r.URL, r.ResourceType, status, statusText,
			r.DurationMs, r.RequestSize, r.ResponseSize, failed, errText, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTestErrors returns a run's errors ordered by timestamp.
func (s *Store) ListTestErrors(runID string) ([]TestError, error) {
	rows, err := s.db.Query(
		`SELECT id, test_run_id, type, message, url, context, timestamp
		 FROM test_errors WHERE test_run_id = ? ORDER BY timestamp ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var errs []TestError
	for rows.Next() {
		var e TestError
		var url, eventContext sql.NullString
		if err := rows.Scan(&e.ID, &e.TestRunID, &e.Type, &e.Message, &url, &eventContext, &e.Timestamp); err != nil {
			return nil, err
		}
		if url.Valid {
			e.URL = url.String
		}
		if eventContext.Valid {
			e.Context = eventContext.String
		}
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

// ListNetworkRequests returns a run's request log ordered by timestamp.
func (s *Store) ListNetworkRequests(runID string) ([]NetworkRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, test_run_id, method, url, resource_type, status, status_text, duration_ms,
		        request_size, response_size, failed, error_text, timestamp
		 FROM network_requests WHERE test_run_id = ? ORDER BY timestamp ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []NetworkRequest
	for rows.Next() {
		var r NetworkRequest
		var status sql.NullInt64
		var statusText, errText sql.NullString
		var failed int
		if err := rows.Scan(&r.ID, &r.TestRunID, &r.Method, &r.URL, &r.ResourceType,
			&status, &statusText, &r.DurationMs, &r.RequestSize, &r.ResponseSize,
			&failed, &errText, &r.Timestamp); err != nil {
			return nil, err
		}
		if status.Valid {
			r.Status = int(status.Int64)
		}
		if statusText.Valid {
			r.StatusText = statusText.String
		}
		if errText.Valid {
			r.ErrorText = errText.String
		}
		r.Failed = failed != 0
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
