package storage

import (
	"time"

	"github.com/odvcencio/testpilot/pkg/locator"
)

// Run status constants. The run state machine only moves forward:
// PENDING -> RUNNING -> {PASSED, FAILED, CANCELLED}.
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusPassed    = "PASSED"
	RunStatusFailed    = "FAILED"
	RunStatusCancelled = "CANCELLED"
)

// Step result status constants. Forward-only per instance:
// PENDING -> RUNNING -> {PASSED, FAILED}, or PENDING -> SKIPPED on cancellation.
const (
	StepStatusPending = "PENDING"
	StepStatusRunning = "RUNNING"
	StepStatusPassed  = "PASSED"
	StepStatusFailed  = "FAILED"
	StepStatusSkipped = "SKIPPED"
)

// Test error type constants.
const (
	ErrorTypeConsole         = "CONSOLE_ERROR"
	ErrorTypeNetwork         = "NETWORK_ERROR"
	ErrorTypeAssertion       = "ASSERTION_ERROR"
	ErrorTypeTimeout         = "TIMEOUT_ERROR"
	ErrorTypeElementNotFound = "ELEMENT_NOT_FOUND"
	ErrorTypeOther           = "OTHER"
)

// IsTerminalRunStatus reports whether a run status allows no further writes.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case RunStatusPassed, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// TestStep is one recorded step of a test file. Immutable during a run.
type TestStep struct {
	ID                string          `json:"id"`
	TestFileID        string          `json:"testFileId"`
	StepNumber        int             `json:"stepNumber"`
	Action            string          `json:"action"`
	Description       string          `json:"description"`
	Value             string          `json:"value,omitempty"`
	Locators          *locator.Bundle `json:"locators,omitempty"`
	ElementScreenshot string          `json:"elementScreenshot,omitempty"`
}

// TestFileDetail bundles a test file with its ordered steps and the owning
// project's base URL and user, following the ownership chain
// user -> project -> folder -> test file.
type TestFileDetail struct {
	ID      string
	Name    string
	OwnerID string
	BaseURL string
	Steps   []TestStep
}

// TestRun is one execution attempt of a test file.
type TestRun struct {
	ID         string     `json:"id"`
	TestFileID string     `json:"testFileId"`
	Status     string     `json:"status"`
	ShareToken string     `json:"shareToken"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	VideoURL   string     `json:"videoUrl,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// StepResult is the outcome of one step within one run.
type StepResult struct {
	ID            string `json:"id"`
	TestRunID     string `json:"testRunId"`
	TestStepID    string `json:"testStepId"`
	Status        string `json:"status"`
	DurationMs    int64  `json:"duration,omitempty"`
	Error         string `json:"error,omitempty"`
	LocatorUsed   string `json:"locatorUsed,omitempty"`
	ScreenshotURL string `json:"screenshotUrl,omitempty"`
}

// StepResultDetail is a step result annotated with its parent step.
type StepResultDetail struct {
	StepResult
	StepNumber  int    `json:"stepNumber"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// TestError is an append-only error log entry tied to a run.
type TestError struct {
	ID        int64     `json:"id"`
	TestRunID string    `json:"testRunId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkRequest is one tracked XHR/fetch request within a run.
type NetworkRequest struct {
	ID           int64     `json:"id"`
	TestRunID    string    `json:"testRunId"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"resourceType"`
	Status       int       `json:"status,omitempty"`
	StatusText   string    `json:"statusText,omitempty"`
	DurationMs   int64     `json:"duration,omitempty"`
	RequestSize  int64     `json:"requestSize,omitempty"`
	ResponseSize int64     `json:"responseSize,omitempty"`
	Failed       bool      `json:"failed"`
	ErrorText    string    `json:"errorText,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
