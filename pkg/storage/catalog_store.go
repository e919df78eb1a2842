package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/odvcencio/testpilot/pkg/locator"
)

// The catalog side (projects/folders/test files/steps) is written by the
// recording pipeline; the run engine consumes it read-only. The create
// operations below exist for seeding and tests.

// Project is the top of the ownership chain.
type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	BaseURL   string    `json:"baseUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// Folder groups test files inside a project.
type Folder struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// TestFile owns an ordered list of recorded steps.
type TestFile struct {
	ID       string `json:"id"`
	FolderID string `json:"folderId"`
	Name     string `json:"name"`
}

// CreateProject inserts a project.
func (s *Store) CreateProject(p *Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.execRetry(
		`INSERT INTO projects (id, user_id, name, base_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.BaseURL, p.CreatedAt,
	)
	return err
}

// CreateFolder inserts a folder.
func (s *Store) CreateFolder(f *Folder) error {
	_, err := s.execRetry(
		`INSERT INTO folders (id, project_id, name) VALUES (?, ?, ?)`,
		f.ID, f.ProjectID, f.Name,
	)
	return err
}

// CreateTestFile inserts a test file.
func (s *Store) CreateTestFile(f *TestFile) error {
	_, err := s.execRetry(
		`INSERT INTO test_files (id, folder_id, name) VALUES (?, ?, ?)`,
		f.ID, f.FolderID, f.Name,
	)
	return err
}

// CreateTestSteps inserts steps for a test file in one transaction.
func (s *Store) CreateTestSteps(steps []TestStep) error {
	if len(steps) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO test_steps (id, test_file_id, step_number, action, description, value, locators, element_screenshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, step := range steps {
		var locatorsJSON any
		if step.Locators != nil {
			raw, err := json.Marshal(step.Locators)
			if err != nil {
				return fmt.Errorf("marshal locators for step %d: %w", step.StepNumber, err)
			}
			locatorsJSON = string(raw)
		}
		var value, screenshot any
		if step.Value != "" {
			value = step.Value
		}
		if step.ElementScreenshot != "" {
			screenshot = step.ElementScreenshot
		}
		if _, err := stmt.Exec(step.ID, step.TestFileID, step.StepNumber, step.Action,
			step.Description, value, locatorsJSON, screenshot); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTestFileWithSteps loads a test file, its ordered steps, and the owning
// project's base URL and user. Returns nil when the test file does not exist.
func (s *Store) GetTestFileWithSteps(testFileID string) (*TestFileDetail, error) {
	detail := &TestFileDetail{}
	err := s.db.QueryRow(
		`SELECT tf.id, tf.name, p.user_id, p.base_url
		 FROM test_files tf
		 JOIN folders f ON f.id = tf.folder_id
		 JOIN projects p ON p.id = f.project_id
		 WHERE tf.id = ?`,
		testFileID,
	).Scan(&detail.ID, &detail.Name, &detail.OwnerID, &detail.BaseURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, test_file_id, step_number, action, description, value, locators, element_screenshot
		 FROM test_steps WHERE test_file_id = ? ORDER BY step_number ASC`,
		testFileID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var step TestStep
		var value, locatorsJSON, screenshot sql.NullString
		if err := rows.Scan(&step.ID, &step.TestFileID, &step.StepNumber, &step.Action,
			&step.Description, &value, &locatorsJSON, &screenshot); err != nil {
			return nil, err
		}
		if value.Valid {
			step.Value = value.String
		}
		if screenshot.Valid {
			step.ElementScreenshot = screenshot.String
		}
		if locatorsJSON.Valid && locatorsJSON.String != "" {
			var bundle locator.Bundle
			if err := json.Unmarshal([]byte(locatorsJSON.String), &bundle); err != nil {
				return nil, fmt.Errorf("unmarshal locators for step %s: %w", step.ID, err)
			}
			step.Locators = &bundle
		}
		detail.Steps = append(detail.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return detail, nil
}

// VerifyOwnership reports whether the test file belongs transitively to the
// user. A missing test file is not owned by anyone.
func (s *Store) VerifyOwnership(testFileID, userID string) (bool, error) {
	var ownerID string
	err := s.db.QueryRow(
		`SELECT p.user_id
		 FROM test_files tf
		 JOIN folders f ON f.id = tf.folder_id
		 JOIN projects p ON p.id = f.project_id
		 WHERE tf.id = ?`,
		testFileID,
	).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ownerID == userID, nil
}
