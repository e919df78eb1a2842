package engine

import (
	"math"
	"time"

	"github.com/odvcencio/testpilot/pkg/storage"
)

// FormattedRun is the API-facing shape of a run: the run row plus its step
// results, captured errors, and tracked requests, with progress precomputed.
type FormattedRun struct {
	ID              string                     `json:"id"`
	TestFileID      string                     `json:"testFileId"`
	TestFileName    string                     `json:"testFileName"`
	Status          string                     `json:"status"`
	ShareToken      string                     `json:"shareToken"`
	Progress        int                        `json:"progress"`
	StartedAt       *time.Time                 `json:"startedAt,omitempty"`
	EndedAt         *time.Time                 `json:"endedAt,omitempty"`
	VideoURL        string                     `json:"videoUrl,omitempty"`
	CreatedAt       time.Time                  `json:"createdAt"`
	StepResults     []storage.StepResultDetail `json:"stepResults"`
	Errors          []storage.TestError        `json:"errors"`
	NetworkRequests []storage.NetworkRequest   `json:"networkRequests"`
}

// progress is the share of steps that reached a final state, as a rounded
// percentage. A run with no steps never exists, but guard anyway.
func progress(results []storage.StepResultDetail) int {
	if len(results) == 0 {
		return 0
	}
	completed := 0
	for _, r := range results {
		switch r.Status {
		case storage.StepStatusPassed, storage.StepStatusFailed, storage.StepStatusSkipped:
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(results))))
}

// formatRun shapes a freshly created run, before any step has been touched.
func (s *Service) formatRun(run *storage.TestRun, testFileName string) (*FormattedRun, error) {
	results, err := s.store.ListStepResults(run.ID)
	if err != nil {
		return nil, err
	}
	return &FormattedRun{
		ID:              run.ID,
		TestFileID:      run.TestFileID,
		TestFileName:    testFileName,
		Status:          run.Status,
		ShareToken:      run.ShareToken,
		Progress:        progress(results),
		StartedAt:       run.StartedAt,
		EndedAt:         run.EndedAt,
		VideoURL:        run.VideoURL,
		CreatedAt:       run.CreatedAt,
		StepResults:     results,
		Errors:          []storage.TestError{},
		NetworkRequests: []storage.NetworkRequest{},
	}, nil
}

// hydrateRun loads everything attached to a stored run.
func (s *Service) hydrateRun(run *storage.TestRun) (*FormattedRun, error) {
	detail, err := s.store.GetTestFileWithSteps(run.TestFileID)
	if err != nil {
		return nil, err
	}
	name := ""
	if detail != nil {
		name = detail.Name
	}
	fr, err := s.formatRun(run, name)
	if err != nil {
		return nil, err
	}
	if fr.Errors, err = s.store.ListTestErrors(run.ID); err != nil {
		return nil, err
	}
	if fr.NetworkRequests, err = s.store.ListNetworkRequests(run.ID); err != nil {
		return nil, err
	}
	if fr.Errors == nil {
		fr.Errors = []storage.TestError{}
	}
	if fr.NetworkRequests == nil {
		fr.NetworkRequests = []storage.NetworkRequest{}
	}
	return fr, nil
}
