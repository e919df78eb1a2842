package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleStartRun creates a run and kicks off execution in the background.
// The browser is headless unless ?headless=false asks for a visible window.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	headless := s.defaultHeadless
	if v := r.URL.Query().Get("headless"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid headless value: "+v)
			return
		}
		headless = parsed
	}

	run, err := s.runs.StartRun(r.Context(), testID, userID(r), headless)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit value: "+v)
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListRuns(testID, userID(r), limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.runs.GetRun(runID, userID(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.runs.CancelRun(runID, userID(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "test run cancelled"})
}

func (s *Server) handleGetSharedRun(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "shareToken")

	run, err := s.runs.GetRunByShareToken(token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleVerifyFix re-runs the shared run's test file with its current steps,
// so whoever received the share link can check whether the failure is gone.
func (s *Server) handleVerifyFix(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "shareToken")

	run, err := s.runs.VerifyFix(r.Context(), token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}
