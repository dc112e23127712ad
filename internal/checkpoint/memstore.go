package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemStore is an ephemeral, thread-safe checkpoint store for local runs and
// tests. Snapshots are deep-copied on the way in and out so callers can
// never mutate a recorded checkpoint.
type MemStore struct {
	mu   sync.RWMutex
	runs map[string][]Checkpoint
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{runs: make(map[string][]Checkpoint)}
}

// Save implements Store.
func (s *MemStore) Save(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp.Seq = len(s.runs[cp.RunID]) + 1
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.State != nil {
		cp.State = cp.State.Clone()
	}
	s.runs[cp.RunID] = append(s.runs[cp.RunID], cp)
	return nil
}

// Latest implements Store.
func (s *MemStore) Latest(_ context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.runs[runID]
	if len(cps) == 0 {
		return nil, nil
	}
	cp := cps[len(cps)-1]
	if cp.State != nil {
		cp.State = cp.State.Clone()
	}
	return &cp, nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

// History implements Store.
func (s *MemStore) History(_ context.Context, runID string) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.runs[runID]
	out := make([]Checkpoint, len(cps))
	for i, cp := range cps {
		out[i] = cp
		if cp.State != nil {
			out[i].State = cp.State.Clone()
		}
	}
	return out, nil
}
