package executor

import (
	"sync"
	"sync/atomic"
)

// control carries the cooperative pause and cancel requests of one running job.
// The flags are read only at batch boundaries.
type control struct {
	pause  atomic.Bool
	cancel atomic.Bool
}

// signals tracks the jobs this process is currently driving.
type signals struct {
	mu      sync.Mutex
	running map[string]*control
}

func newSignals() *signals {
	return &signals{running: make(map[string]*control)}
}

// acquire registers a run of (tenantID, jobID). It fails when the job is already
// being driven by this process. The returned function unregisters the run.
func (s *signals) acquire(tenantID, jobID string) (*control, func(), bool) {
	k := tenantID + "/" + jobID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[k]; busy {
		return nil, nil, false
	}
	c := &control{}
	s.running[k] = c
	return c, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.running, k)
	}, true
}

func (s *signals) lookup(tenantID, jobID string) (*control, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.running[tenantID+"/"+jobID]
	return c, ok
}
