package realtime

import "sync"

// Mirror remembers the latest version seen per entity so that late or duplicated events are dropped.
type Mirror struct {
	mu       sync.Mutex
	versions map[string]int64
}

func NewMirror() *Mirror {
	return &Mirror{versions: make(map[string]int64)}
}

// Seed records a version obtained from a snapshot read.
func (m *Mirror) Seed(entity, id string, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entity + ":" + id
	if version > m.versions[key] {
		m.versions[key] = version
	}
}

// Apply reports whether e is newer than what the mirror holds, and records it if so.
func (m *Mirror) Apply(e Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.Key()
	if cur, ok := m.versions[key]; ok && e.Version <= cur {
		return false
	}
	m.versions[key] = e.Version
	return true
}

func (m *Mirror) Version(entity, id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[entity+":"+id]
}
