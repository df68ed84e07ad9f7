package valset

import (
	"sync"
)

// MemStore keeps snapshots in memory. It backs tests and ephemeral nodes.
type MemStore struct {
	mu        sync.RWMutex
	snapshots map[uint64]*Snapshot
	latest    uint64
	history   *History
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{snapshots: make(map[uint64]*Snapshot)}
}

func (m *MemStore) CommitSnapshot(snap *Snapshot, history *History) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snap.Version] = snap
	if snap.Version > m.latest {
		m.latest = snap.Version
	}
	m.history = history.clone()
	return nil
}

func (m *MemStore) GetSnapshot(version uint64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[version]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return s, nil
}

func (m *MemStore) LatestSnapshot() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == 0 {
		return nil, ErrSnapshotNotFound
	}
	return m.snapshots[m.latest], nil
}

func (m *MemStore) GetHistory() (*History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.history == nil {
		return nil, ErrSnapshotNotFound
	}
	return m.history.clone(), nil
}
