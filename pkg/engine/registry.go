package engine

import "sync"

// cancelRegistry tracks in-flight runs so the cancel endpoint can signal the
// detached execution goroutine. Cancellation state is process-local and does
// not survive a restart; the startup orphan sweep covers that gap.
type cancelRegistry struct {
	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	cancelled bool
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{runs: make(map[string]*runState)}
}

// add registers a run. Must be called before execution starts.
func (r *cancelRegistry) add(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = &runState{}
}

// cancel flags a run for cancellation. No-op when the run is not registered
// (already finished or never started here).
func (r *cancelRegistry) cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.runs[runID]
	if !ok {
		return false
	}
	state.cancelled = true
	return true
}

// cancelled reports whether cancellation was requested for the run.
func (r *cancelRegistry) cancelled(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.runs[runID]
	return ok && state.cancelled
}

// remove drops a finished run.
func (r *cancelRegistry) remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}
