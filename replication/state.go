package replication

import (
	"sync"

	"replsend/storage"
)

// Result is the terminal outcome of the most recently completed job.
type Result struct {
	Success bool
	Err     error
}

// State is the process-wide, mutex-guarded record tracking the
// snapshot handle installed by a preceding make-snapshot step and the
// terminal outcome of the job that consumes it. Critical sections are
// a pointer read and a two-field update, never held across I/O.
type State struct {
	mu         sync.Mutex
	snapshot   *storage.Snapshot
	inProgress bool
	lastResult Result
}

func NewState() *State { return &State{} }

// Install installs a freshly acquired snapshot handle, releasing any
// previous one that was never consumed by a job.
func (s *State) Install(snap *storage.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		s.snapshot.Release()
	}
	s.snapshot = snap
	s.inProgress = true
}

// Snapshot returns the currently installed handle, if any, without
// consuming it.
func (s *State) Snapshot() (*storage.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.snapshot != nil
}

// TakeSnapshot hands the installed handle to a starting job, clearing
// it from State so a later Install (a concurrent make-snapshot request)
// can never reach back in and release a handle the job's iterator is
// still reading. inProgress is left untouched: the job stays in
// progress until Finish, whether or not it still holds the field.
func (s *State) TakeSnapshot() (*storage.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot
	s.snapshot = nil
	return snap, snap != nil
}

// Finish must be called exactly once per job, on every terminal path:
// success, a fatal I/O error, or a rejected completion. It clears
// in-progress and records the outcome.
func (s *State) Finish(success bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
	s.lastResult = Result{Success: success, Err: err}
	if s.snapshot != nil {
		s.snapshot.Release()
		s.snapshot = nil
	}
}

func (s *State) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

func (s *State) LastResult() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}
