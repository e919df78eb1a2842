package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/logging"
	"github.com/odvcencio/testpilot/pkg/metrics"
	"github.com/odvcencio/testpilot/pkg/storage"
)

// Config tunes the run engine.
type Config struct {
	// LocatorTimeout is the per-strategy visibility wait during resolution.
	LocatorTimeout time.Duration
	// MaxConcurrent caps simultaneously executing runs. Runs beyond the cap
	// stay PENDING until a slot frees up.
	MaxConcurrent int64
	// RecordVideo enables screencast capture for every session.
	RecordVideo bool
	// ArtifactDir is where video frames land when recording is on.
	ArtifactDir string
	// Viewport overrides the default session viewport when both dimensions
	// are set.
	Viewport browser.Viewport
}

// Service owns the full run lifecycle: creation, execution, cancellation,
// and retrieval. One Service per process.
type Service struct {
	store    *storage.Store
	sessions *browser.Manager
	exec     *Executor
	log      *logging.Logger
	metrics  *metrics.Collector
	registry *cancelRegistry
	sem      *semaphore.Weighted
	cfg      Config

	wg sync.WaitGroup
}

func New(store *storage.Store, sessions *browser.Manager, log *logging.Logger, m *metrics.Collector, cfg Config) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Service{
		store:    store,
		sessions: sessions,
		exec:     NewExecutor(cfg.LocatorTimeout, log, m),
		log:      log,
		metrics:  m,
		registry: newCancelRegistry(),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:      cfg,
	}
}

// StartRun creates a PENDING run for the test file and begins executing it in
// the background. The returned run is the freshly created record; callers poll
// GetRun for progress.
func (s *Service) StartRun(ctx context.Context, testFileID, userID string, headless bool) (*FormattedRun, error) {
	detail, err := s.store.GetTestFileWithSteps(testFileID)
	if err != nil {
		return nil, fmt.Errorf("load test file: %w", err)
	}
	if detail == nil {
		return nil, &NotFoundError{Resource: "test file"}
	}
	if detail.OwnerID != userID {
		return nil, &ForbiddenError{Reason: "test file does not belong to user"}
	}
	if len(detail.Steps) == 0 {
		return nil, &ForbiddenError{Reason: "test file has no steps to execute"}
	}

	now := time.Now()
	run := &storage.TestRun{
		ID:         uuid.NewString(),
		TestFileID: testFileID,
		Status:     storage.RunStatusPending,
		ShareToken: newShareToken(),
		CreatedAt:  now,
	}
	if err := s.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	results := make([]storage.StepResult, 0, len(detail.Steps))
	for _, step := range detail.Steps {
		results = append(results, storage.StepResult{
			ID:         uuid.NewString(),
			TestRunID:  run.ID,
			TestStepID: step.ID,
			Status:     storage.StepStatusPending,
		})
	}
	if err := s.store.CreateStepResults(results); err != nil {
		return nil, fmt.Errorf("create step results: %w", err)
	}

	s.registry.add(run.ID)
	s.metrics.RecordRunStarted()
	s.log.Info(logging.CategoryRun, "run_created", run.ID, "test run created", map[string]any{
		"testFileId": testFileID,
		"steps":      len(detail.Steps),
		"headless":   headless,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeRun(run.ID, detail, results, headless)
	}()

	return s.formatRun(run, detail.Name)
}

// CancelRun requests cancellation. The running goroutine notices at its next
// step boundary; cancelling a run that already finished is a no-op.
func (s *Service) CancelRun(runID, userID string) error {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return &NotFoundError{Resource: "test run"}
	}
	owned, err := s.store.VerifyOwnership(run.TestFileID, userID)
	if err != nil {
		return err
	}
	if !owned {
		return &ForbiddenError{Reason: "test run does not belong to user"}
	}
	if storage.IsTerminalRunStatus(run.Status) {
		return nil
	}

	s.registry.cancel(runID)
	changed, err := s.store.CancelRun(runID, time.Now())
	if err != nil {
		return err
	}
	if changed {
		if err := s.store.SkipPendingSteps(runID); err != nil {
			return err
		}
	}
	s.log.Info(logging.CategoryRun, "run_cancelled", runID, "cancellation requested", nil)
	return nil
}

// GetRun returns the fully hydrated run for its owner.
func (s *Service) GetRun(runID, userID string) (*FormattedRun, error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &NotFoundError{Resource: "test run"}
	}
	owned, err := s.store.VerifyOwnership(run.TestFileID, userID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, &ForbiddenError{Reason: "test run does not belong to user"}
	}
	return s.hydrateRun(run)
}

// GetRunByShareToken returns the run behind a share token. No ownership check:
// the token itself is the capability.
func (s *Service) GetRunByShareToken(token string) (*FormattedRun, error) {
	run, err := s.store.GetRunByShareToken(token)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &NotFoundError{Resource: "test run"}
	}
	return s.hydrateRun(run)
}

// ListRuns returns the newest runs of a test file, hydrated.
func (s *Service) ListRuns(testFileID, userID string, limit int) ([]*FormattedRun, error) {
	owned, err := s.store.VerifyOwnership(testFileID, userID)
	if err != nil {
		return nil, err
	}
	if !owned {
		detail, derr := s.store.GetTestFileWithSteps(testFileID)
		if derr != nil {
			return nil, derr
		}
		if detail == nil {
			return nil, &NotFoundError{Resource: "test file"}
		}
		return nil, &ForbiddenError{Reason: "test file does not belong to user"}
	}
	runs, err := s.store.ListRunsByTestFile(testFileID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*FormattedRun, 0, len(runs))
	for i := range runs {
		fr, err := s.hydrateRun(&runs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, fr)
	}
	return out, nil
}

// VerifyFix starts a fresh run of the shared run's test file with its current
// steps. Always headless; share links have no business opening windows.
func (s *Service) VerifyFix(ctx context.Context, token string) (*FormattedRun, error) {
	run, err := s.store.GetRunByShareToken(token)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, &NotFoundError{Resource: "test run"}
	}
	detail, err := s.store.GetTestFileWithSteps(run.TestFileID)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, &NotFoundError{Resource: "test file"}
	}
	return s.StartRun(ctx, run.TestFileID, detail.OwnerID, true)
}

// Drain blocks until every in-flight run goroutine has finished.
func (s *Service) Drain() {
	s.wg.Wait()
}

// executeRun drives one run to a terminal status. It never panics out: any
// failure inside is converted into a FAILED (or CANCELLED) run record.
func (s *Service) executeRun(runID string, detail *storage.TestFileDetail, results []storage.StepResult, headless bool) {
	ctx := context.Background()
	start := time.Now()
	telemetry := newTelemetryCollector()
	finalStatus := storage.RunStatusFailed
	videoURL := ""

	defer func() {
		if r := recover(); r != nil {
			s.log.Error(logging.CategoryRun, "run_panic", runID, fmt.Sprintf("panic: %v", r), nil)
			telemetry.appendError(storage.ErrorTypeOther, fmt.Sprintf("internal error: %v", r), "")
			finalStatus = storage.RunStatusFailed
		}
		s.finishRun(runID, finalStatus, videoURL, telemetry, time.Since(start))
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		telemetry.appendError(storage.ErrorTypeOther, fmt.Sprintf("acquire run slot: %v", err), "")
		return
	}
	defer s.sem.Release(1)

	// A cancel may have landed while the run waited for a slot.
	if s.registry.cancelled(runID) {
		finalStatus = storage.RunStatusCancelled
		if err := s.store.SkipPendingSteps(runID); err != nil {
			s.log.Error(logging.CategoryRun, "skip_steps_failed", runID, err.Error(), nil)
		}
		return
	}

	if err := s.store.MarkRunRunning(runID, time.Now()); err != nil {
		telemetry.appendError(storage.ErrorTypeOther, fmt.Sprintf("mark run running: %v", err), "")
		return
	}

	cfg := browser.DefaultSessionConfig()
	cfg.SessionID = runID
	cfg.Headless = headless
	cfg.RecordVideo = s.cfg.RecordVideo
	cfg.ArtifactDir = s.cfg.ArtifactDir
	if s.cfg.Viewport.Width > 0 && s.cfg.Viewport.Height > 0 {
		cfg.Viewport = s.cfg.Viewport
	}
	sess, err := s.sessions.CreateSession(ctx, cfg)
	if err != nil {
		telemetry.appendError(storage.ErrorTypeOther, fmt.Sprintf("create browser session: %v", err), "")
		s.log.Error(logging.CategoryBrowser, "session_create_failed", runID, err.Error(), nil)
		if serr := s.store.SkipPendingSteps(runID); serr != nil {
			s.log.Error(logging.CategoryRun, "skip_steps_failed", runID, serr.Error(), nil)
		}
		return
	}
	defer func() {
		if path, ok := sess.VideoPath(); ok {
			videoURL = path
		}
		if cerr := s.sessions.CloseSession(runID); cerr != nil {
			s.log.Warn(logging.CategoryBrowser, "session_close_failed", runID, cerr.Error(), nil)
		}
	}()
	sess.Subscribe(telemetry)

	if detail.BaseURL != "" {
		if err := sess.Navigate(ctx, detail.BaseURL); err != nil {
			telemetry.appendError(storage.ErrorTypeOther, fmt.Sprintf("navigate to base URL: %v", err), detail.BaseURL)
			if serr := s.store.SkipPendingSteps(runID); serr != nil {
				s.log.Error(logging.CategoryRun, "skip_steps_failed", runID, serr.Error(), nil)
			}
			return
		}
	}

	allPassed := true
	for i, step := range detail.Steps {
		if s.registry.cancelled(runID) {
			finalStatus = storage.RunStatusCancelled
			if err := s.store.SkipPendingSteps(runID); err != nil {
				s.log.Error(logging.CategoryRun, "skip_steps_failed", runID, err.Error(), nil)
			}
			return
		}

		result := &results[i]
		if err := s.store.MarkStepRunning(result.ID); err != nil {
			s.log.Error(logging.CategoryStep, "mark_step_failed", runID, err.Error(), nil)
		}

		outcome := s.exec.Execute(ctx, runID, sess, step)

		result.Status = outcome.Status
		result.DurationMs = outcome.Duration.Milliseconds()
		result.Error = outcome.Err
		result.LocatorUsed = outcome.LocatorUsed
		if len(outcome.Screenshot) > 0 {
			result.ScreenshotURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(outcome.Screenshot)
		}
		if err := s.store.CompleteStepResult(result); err != nil {
			s.log.Error(logging.CategoryStep, "persist_step_failed", runID, err.Error(), nil)
		}

		if outcome.Status == storage.StepStatusFailed {
			allPassed = false
			currentURL, _ := sess.URL(ctx)
			telemetry.appendError(classifyStepError(outcome.Err), outcome.Err, currentURL)
			// Remaining steps still execute after a failure.
		}
	}

	if s.registry.cancelled(runID) {
		finalStatus = storage.RunStatusCancelled
		return
	}
	if allPassed {
		finalStatus = storage.RunStatusPassed
	}
}

// finishRun persists telemetry and the terminal status, then releases the
// cancellation slot. FinalizeRun never downgrades CANCELLED, so a cancel that
// raced the final steps still wins.
func (s *Service) finishRun(runID, status, videoURL string, telemetry *telemetryCollector, elapsed time.Duration) {
	if errs := telemetry.capturedErrors(); len(errs) > 0 {
		if err := s.store.AppendTestErrors(runID, errs); err != nil {
			s.log.Error(logging.CategoryStorage, "persist_errors_failed", runID, err.Error(), nil)
		}
	}
	if reqs := telemetry.capturedRequests(); len(reqs) > 0 {
		if err := s.store.AppendNetworkRequests(runID, reqs); err != nil {
			s.log.Error(logging.CategoryStorage, "persist_requests_failed", runID, err.Error(), nil)
		}
	}

	if err := s.store.FinalizeRun(runID, status, time.Now(), videoURL); err != nil {
		s.log.Error(logging.CategoryRun, "finalize_failed", runID, err.Error(), nil)
	}
	s.registry.remove(runID)

	final := status
	if run, err := s.store.GetRun(runID); err == nil && run != nil {
		final = run.Status
	}
	s.metrics.RecordRunCompleted(final, elapsed)
	s.log.Info(logging.CategoryRun, "run_finished", runID, "test run finished", map[string]any{
		"status":     final,
		"durationMs": elapsed.Milliseconds(),
	})
}

// newShareToken mints the run's public capability token. ULID's default
// entropy is crypto/rand backed, so tokens are unique and not guessable.
func newShareToken() string {
	return ulid.Make().String()
}
