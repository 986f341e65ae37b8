package manager

import "sync"

// store is the in-memory snapshot cache, keyed by entity id. Entries live
// only for the manager's lifetime; last save wins.
type store struct {
	mu        sync.Mutex
	snapshots map[string]Snapshot
}

func newStore() *store {
	return &store{
		snapshots: make(map[string]Snapshot),
	}
}

// put stores a snapshot, overwriting any prior one for the same entity.
func (s *store) put(entityID string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[entityID] = snap
}

func (s *store) get(entityID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[entityID]
	return snap, ok
}

func (s *store) delete(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, entityID)
}

func (s *store) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
