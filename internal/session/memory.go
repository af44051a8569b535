package session

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. Values do not survive a
// restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]map[string]string)}
}

func (m *MemoryBackend) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[sessionID][key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, sessionID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vals, ok := m.values[sessionID]
	if !ok {
		vals = make(map[string]string)
		m.values[sessionID] = vals
	}
	vals[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, sessionID)
	return nil
}

// Sessions returns how many sessions currently hold values.
func (m *MemoryBackend) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
