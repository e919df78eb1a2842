package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCatalog(t *testing.T, store *Store, steps int) string {
	t.Helper()
	if err := store.CreateProject(&Project{ID: "p1", UserID: "u1", Name: "Shop", BaseURL: "https://shop.test"}); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := store.CreateFolder(&Folder{ID: "f1", ProjectID: "p1", Name: "Smoke"}); err != nil {
		t.Fatalf("folder: %v", err)
	}
	if err := store.CreateTestFile(&TestFile{ID: "tf1", FolderID: "f1", Name: "smoke"}); err != nil {
		t.Fatalf("test file: %v", err)
	}
	var ts []TestStep
	for i := 1; i <= steps; i++ {
		ts = append(ts, TestStep{
			ID:         fmt.Sprintf("s%d", i),
			TestFileID: "tf1",
			StepNumber: i,
			Action:     "navigate",
			Value:      "https://shop.test",
		})
	}
	if err := store.CreateTestSteps(ts); err != nil {
		t.Fatalf("steps: %v", err)
	}
	return "tf1"
}

func seedRun(t *testing.T, store *Store, id, token string) *TestRun {
	t.Helper()
	run := &TestRun{ID: id, TestFileID: "tf1", ShareToken: token}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 2)
	run := seedRun(t, store, "run-1", "tok-1")

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunStatusPending {
		t.Errorf("status = %q, want PENDING", got.Status)
	}
	if got.StartedAt != nil || got.EndedAt != nil {
		t.Error("timestamps should be unset on a fresh run")
	}

	if err := store.MarkRunRunning(run.ID, time.Now()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	got, _ = store.GetRun(run.ID)
	if got.Status != RunStatusRunning || got.StartedAt == nil {
		t.Fatalf("after mark running: status=%q startedAt=%v", got.Status, got.StartedAt)
	}

	if err := store.FinalizeRun(run.ID, RunStatusPassed, time.Now(), "artifacts/run-1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, _ = store.GetRun(run.ID)
	if got.Status != RunStatusPassed {
		t.Errorf("status = %q, want PASSED", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("endedAt should be set")
	}
	if got.VideoURL != "artifacts/run-1" {
		t.Errorf("videoUrl = %q", got.VideoURL)
	}
}

func TestFinalizeRunNeverDowngradesCancelled(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)
	run := seedRun(t, store, "run-1", "tok-1")

	changed, err := store.CancelRun(run.ID, time.Now())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !changed {
		t.Fatal("cancel should change a pending run")
	}

	// The execution goroutine finishing late must not overwrite the cancel.
	if err := store.FinalizeRun(run.ID, RunStatusPassed, time.Now(), ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, _ := store.GetRun(run.ID)
	if got.Status != RunStatusCancelled {
		t.Errorf("status = %q, want CANCELLED", got.Status)
	}
}

func TestFinalizeRunLeavesTerminalRunsAlone(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)
	run := seedRun(t, store, "run-1", "tok-1")

	if err := store.FinalizeRun(run.ID, RunStatusFailed, time.Now(), ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := store.FinalizeRun(run.ID, RunStatusPassed, time.Now(), ""); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	got, _ := store.GetRun(run.ID)
	if got.Status != RunStatusFailed {
		t.Errorf("status = %q, want FAILED to stick", got.Status)
	}
}

func TestCancelRunTerminalIsNoop(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)
	run := seedRun(t, store, "run-1", "tok-1")

	if err := store.FinalizeRun(run.ID, RunStatusPassed, time.Now(), ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	changed, err := store.CancelRun(run.ID, time.Now())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if changed {
		t.Error("cancel must not touch a finished run")
	}
}

func TestGetRunByShareToken(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)
	seedRun(t, store, "run-1", "tok-abc")

	got, err := store.GetRunByShareToken("tok-abc")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.ID != "run-1" {
		t.Fatalf("got %+v", got)
	}

	missing, err := store.GetRunByShareToken("tok-nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("missing token should return nil")
	}
}

func TestListRunsByTestFileOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		run := &TestRun{
			ID:         fmt.Sprintf("run-%02d", i),
			TestFileID: "tf1",
			ShareToken: fmt.Sprintf("tok-%02d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
	}

	runs, err := store.ListRunsByTestFile("tf1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 20 {
		t.Fatalf("got %d runs, default limit should be 20", len(runs))
	}
	if runs[0].ID != "run-24" {
		t.Errorf("first run = %q, want newest run-24", runs[0].ID)
	}

	runs, err = store.ListRunsByTestFile("tf1", 5)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(runs) != 5 {
		t.Fatalf("got %d runs, want 5", len(runs))
	}
}

func TestStepResultLifecycle(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 3)
	run := seedRun(t, store, "run-1", "tok-1")

	results := []StepResult{
		{ID: "r1", TestRunID: run.ID, TestStepID: "s1"},
		{ID: "r2", TestRunID: run.ID, TestStepID: "s2"},
		{ID: "r3", TestRunID: run.ID, TestStepID: "s3"},
	}
	if err := store.CreateStepResults(results); err != nil {
		t.Fatalf("create step results: %v", err)
	}

	if err := store.MarkStepRunning("r1"); err != nil {
		t.Fatalf("mark step running: %v", err)
	}
	if err := store.CompleteStepResult(&StepResult{
		ID: "r1", Status: StepStatusPassed, DurationMs: 120,
		LocatorUsed: "testId", ScreenshotURL: "data:image/png;base64,xxx",
	}); err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if err := store.MarkStepRunning("r2"); err != nil {
		t.Fatalf("mark step running: %v", err)
	}
	if err := store.CompleteStepResult(&StepResult{
		ID: "r2", Status: StepStatusFailed, DurationMs: 80, Error: "timeout waiting for #x",
	}); err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if err := store.SkipPendingSteps(run.ID); err != nil {
		t.Fatalf("skip pending: %v", err)
	}

	details, err := store.ListStepResults(run.ID)
	if err != nil {
		t.Fatalf("list step results: %v", err)
	}
	if len(details) != 3 {
		t.Fatalf("got %d results, want 3", len(details))
	}
	if details[0].Status != StepStatusPassed || details[0].LocatorUsed != "testId" || details[0].DurationMs != 120 {
		t.Errorf("first result: %+v", details[0])
	}
	if details[1].Status != StepStatusFailed || details[1].Error == "" {
		t.Errorf("second result: %+v", details[1])
	}
	if details[2].Status != StepStatusSkipped {
		t.Errorf("third result status = %q, want SKIPPED", details[2].Status)
	}
	for i, d := range details {
		if d.StepNumber != i+1 {
			t.Errorf("result %d stepNumber = %d", i, d.StepNumber)
		}
	}
}

func TestSkipPendingLeavesFinishedStepsAlone(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 2)
	run := seedRun(t, store, "run-1", "tok-1")
	if err := store.CreateStepResults([]StepResult{
		{ID: "r1", TestRunID: run.ID, TestStepID: "s1"},
		{ID: "r2", TestRunID: run.ID, TestStepID: "s2"},
	}); err != nil {
		t.Fatalf("create step results: %v", err)
	}
	if err := store.CompleteStepResult(&StepResult{ID: "r1", Status: StepStatusPassed}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.SkipPendingSteps(run.ID); err != nil {
		t.Fatalf("skip: %v", err)
	}

	details, _ := store.ListStepResults(run.ID)
	if details[0].Status != StepStatusPassed {
		t.Errorf("finished step rewritten to %q", details[0].Status)
	}
	if details[1].Status != StepStatusSkipped {
		t.Errorf("pending step = %q, want SKIPPED", details[1].Status)
	}
}

func TestFailOrphanedRuns(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)

	pending := seedRun(t, store, "run-p", "tok-p")
	running := seedRun(t, store, "run-r", "tok-r")
	if err := store.MarkRunRunning(running.ID, time.Now()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	done := seedRun(t, store, "run-d", "tok-d")
	if err := store.FinalizeRun(done.ID, RunStatusPassed, time.Now(), ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := store.CreateStepResults([]StepResult{
		{ID: "r1", TestRunID: pending.ID, TestStepID: "s1"},
	}); err != nil {
		t.Fatalf("step results: %v", err)
	}

	ids, err := store.FailOrphanedRuns(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("swept %v, want 2 runs", ids)
	}

	for _, id := range []string{pending.ID, running.ID} {
		got, _ := store.GetRun(id)
		if got.Status != RunStatusFailed {
			t.Errorf("run %s status = %q, want FAILED", id, got.Status)
		}
		errs, err := store.ListTestErrors(id)
		if err != nil {
			t.Fatalf("list errors: %v", err)
		}
		if len(errs) != 1 || errs[0].Type != ErrorTypeOther {
			t.Errorf("run %s errors = %+v", id, errs)
		}
	}
	got, _ := store.GetRun(done.ID)
	if got.Status != RunStatusPassed {
		t.Errorf("finished run touched by sweep: %q", got.Status)
	}

	details, _ := store.ListStepResults(pending.ID)
	if details[0].Status != StepStatusSkipped {
		t.Errorf("orphaned step = %q, want SKIPPED", details[0].Status)
	}
}

func TestShareTokenUnique(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store, 1)
	seedRun(t, store, "run-1", "tok-dup")

	err := store.CreateRun(&TestRun{ID: "run-2", TestFileID: "tf1", ShareToken: "tok-dup"})
	if err == nil {
		t.Fatal("duplicate share token should be rejected")
	}
}
