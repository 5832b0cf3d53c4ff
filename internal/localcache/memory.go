package localcache

import "sync"

// MemoryPointerStore is an in-memory PointerStore for tests and headless
// embedding.
type MemoryPointerStore struct {
	mu       sync.RWMutex
	pointers map[string]string
}

// NewMemoryPointerStore constructs an empty in-memory pointer store.
func NewMemoryPointerStore() *MemoryPointerStore {
	return &MemoryPointerStore{pointers: map[string]string{}}
}

// ReadPointer returns the stored pointer for a table, or "".
func (s *MemoryPointerStore) ReadPointer(tableID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pointers[tableID]
}

// WritePointer stores or clears the pointer for a table.
func (s *MemoryPointerStore) WritePointer(tableID, perspectiveID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perspectiveID == "" {
		delete(s.pointers, tableID)
		return
	}
	s.pointers[tableID] = perspectiveID
}

// MemorySnapshotStore is an in-memory SnapshotStore for tests and headless
// embedding.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemorySnapshotStore constructs an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: map[string]*Snapshot{}}
}

// ReadSnapshot returns a copy-safe snapshot for a table, or nil.
func (s *MemorySnapshotStore) ReadSnapshot(tableID string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[tableID]
	if !ok {
		return nil
	}
	copied := *snapshot
	copied.Settings = snapshot.Settings.Clone()
	return &copied
}

// WriteSnapshot stores or clears the snapshot for a table.
func (s *MemorySnapshotStore) WriteSnapshot(tableID string, snapshot *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snapshot == nil {
		delete(s.snapshots, tableID)
		return
	}
	copied := *snapshot
	copied.Settings = snapshot.Settings.Clone()
	s.snapshots[tableID] = &copied
}
