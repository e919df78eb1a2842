package engine

import (
	"testing"

	"github.com/odvcencio/testpilot/pkg/storage"
)

func results(statuses ...string) []storage.StepResultDetail {
	out := make([]storage.StepResultDetail, len(statuses))
	for i, st := range statuses {
		out[i].Status = st
	}
	return out
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     int
	}{
		{"no steps", nil, 0},
		{"nothing done", []string{storage.StepStatusPending, storage.StepStatusPending}, 0},
		{"running does not count", []string{storage.StepStatusPassed, storage.StepStatusRunning, storage.StepStatusPending}, 33},
		{"failed counts as done", []string{storage.StepStatusPassed, storage.StepStatusFailed}, 100},
		{"skipped counts as done", []string{storage.StepStatusPassed, storage.StepStatusSkipped, storage.StepStatusSkipped}, 100},
		{"two thirds rounds up", []string{storage.StepStatusPassed, storage.StepStatusPassed, storage.StepStatusPending}, 67},
		{"one sixth rounds to nearest", []string{storage.StepStatusPassed, storage.StepStatusPending, storage.StepStatusPending, storage.StepStatusPending, storage.StepStatusPending, storage.StepStatusPending}, 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progress(results(tt.statuses...)); got != tt.want {
				t.Errorf("progress = %d, want %d", got, tt.want)
			}
		})
	}
}
