package cache

import (
	"strings"
	"sync"
	"time"
)

// memoryStore хранит значения в памяти процесса с собственным учётом TTL.
type memoryStore struct {
	mu      sync.Mutex
	values  map[string]memoryEntry
	sets    map[string]map[string]struct{}
	nowFunc func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		values:  make(map[string]memoryEntry),
		sets:    make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}
}

func (m *memoryStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.values[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && m.nowFunc().After(entry.expiresAt) {
		delete(m.values, key)
		return nil, false
	}
	return entry.data, true
}

func (m *memoryStore) set(key string, data []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = m.nowFunc().Add(ttl)
	}
	m.values[key] = entry
}

func (m *memoryStore) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *memoryStore) addToSet(key, member string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
}

func (m *memoryStore) setMembers(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members
}

// deleteWhere удаляет записи с указанным префиксом, для которых match вернул true.
func (m *memoryStore) deleteWhere(prefix string, match func(data []byte) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, entry := range m.values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if match(entry.data) {
			delete(m.values, key)
		}
	}
}
