package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/browser/browsertest"
	"github.com/odvcencio/testpilot/pkg/engine"
	"github.com/odvcencio/testpilot/pkg/locator"
	"github.com/odvcencio/testpilot/pkg/storage"
)

const testUser = "user-1"

type fixture struct {
	store  *storage.Store
	server *Server
	fileID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.CreateProject(&storage.Project{ID: "p1", UserID: testUser, Name: "Shop", BaseURL: "https://shop.test"}); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := store.CreateFolder(&storage.Folder{ID: "f1", ProjectID: "p1", Name: "Smoke"}); err != nil {
		t.Fatalf("folder: %v", err)
	}
	if err := store.CreateTestFile(&storage.TestFile{ID: "tf1", FolderID: "f1", Name: "smoke"}); err != nil {
		t.Fatalf("test file: %v", err)
	}
	if err := store.CreateTestSteps([]storage.TestStep{
		{ID: "s1", TestFileID: "tf1", StepNumber: 1, Action: "navigate", Value: "https://shop.test/cart"},
		{ID: "s2", TestFileID: "tf1", StepNumber: 2, Action: "click", Locators: &locator.Bundle{CSS: "#go"}},
	}); err != nil {
		t.Fatalf("steps: %v", err)
	}

	rt := &browsertest.Runtime{Prepare: func(s *browsertest.Session) {
		s.ShowElement("#go")
	}}
	runs := engine.New(store, browser.NewManager(rt), nil, nil, engine.Config{
		LocatorTimeout: 10 * time.Millisecond,
	})
	t.Cleanup(runs.Drain)

	return &fixture{
		store:  store,
		server: NewServer(ServerConfig{Runs: runs}),
		fileID: "tf1",
	}
}

func (f *fixture) do(t *testing.T, method, path, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) *engine.FormattedRun {
	t.Helper()
	var run engine.FormattedRun
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("decode run: %v (body %q)", err, rec.Body.String())
	}
	return &run
}

func (f *fixture) waitTerminal(t *testing.T, runID string) *engine.FormattedRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := f.do(t, http.MethodGet, "/api/v1/runs/"+runID, testUser)
		if rec.Code != http.StatusOK {
			t.Fatalf("get run: %d %s", rec.Code, rec.Body.String())
		}
		run := decodeRun(t, rec)
		if storage.IsTerminalRunStatus(run.Status) {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal status")
	return nil
}

func TestStartRunEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", testUser)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeRun(t, rec)
	if created.Status != storage.RunStatusPending {
		t.Errorf("initial status = %q", created.Status)
	}
	if created.TestFileID != "tf1" || created.TestFileName != "smoke" {
		t.Errorf("run = %+v", created)
	}

	final := f.waitTerminal(t, created.ID)
	if final.Status != storage.RunStatusPassed {
		t.Errorf("final status = %q, want PASSED", final.Status)
	}
}

func TestStartRunRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStartRunUnknownTest(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/tests/ghost/run", testUser)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStartRunWrongOwner(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", "intruder")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestStartRunHeadlessParam(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run?headless=false", testUser)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	created := decodeRun(t, rec)
	f.waitTerminal(t, created.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/tests/tf1/run?headless=maybe", testUser)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad headless value", rec.Code)
	}
}

func TestListRunsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", testUser)
	created := decodeRun(t, rec)
	f.waitTerminal(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/tests/tf1/runs", testUser)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []engine.FormattedRun
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != created.ID {
		t.Errorf("runs = %+v", runs)
	}
}

func TestCancelRunEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", testUser)
	created := decodeRun(t, rec)
	f.waitTerminal(t, created.ID)

	// The run already finished; cancel still succeeds as a no-op.
	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+created.ID+"/cancel", testUser)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for finished run", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "test run cancelled" {
		t.Errorf("message = %q", body["message"])
	}

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+created.ID, testUser)
	run := decodeRun(t, rec)
	if run.Status == storage.RunStatusCancelled {
		t.Errorf("finished run flipped to CANCELLED by the no-op cancel")
	}
}

func TestShareEndpointsNeedNoAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", testUser)
	created := decodeRun(t, rec)
	f.waitTerminal(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/share/"+created.ShareToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	shared := decodeRun(t, rec)
	if shared.ID != created.ID {
		t.Errorf("shared run = %q, want %q", shared.ID, created.ID)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/share/no-such-token", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestVerifyFixEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tests/tf1/run", testUser)
	created := decodeRun(t, rec)
	f.waitTerminal(t, created.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/share/"+created.ShareToken+"/verify", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	verification := decodeRun(t, rec)
	if verification.ID == created.ID {
		t.Error("verification must be a new run")
	}
	f.waitTerminal(t, verification.ID)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
