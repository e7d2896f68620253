package api

import (
	"sync"

	"github.com/google/uuid"
)

// RunStore keeps completed runs in memory until they are deleted.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]Run
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]Run),
	}
}

// Create assigns run an id and stores it.
func (s *RunStore) Create(run Run) Run {
	run.ID = newRunID()
	run.Object = "run"

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()
	return run
}

func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *RunStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return false
	}
	delete(s.runs, id)
	return true
}

func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
