package journal

import (
	"sync"
	"time"
)

// Memory is an in-process Journal. It does not survive restarts.
type Memory struct {
	mu      sync.Mutex
	entries map[string]int64
}

// NewMemory creates an empty Memory journal.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]int64)}
}

// Record implements Journal.
func (m *Memory) Record(path string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	millis := t.UnixMilli()
	if existing, ok := m.entries[path]; ok && existing >= millis {
		return nil
	}
	m.entries[path] = millis
	return nil
}

// Lookup implements Journal.
func (m *Memory) Lookup(path string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	millis, ok := m.entries[path]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(millis), true, nil
}

// Forget implements Journal.
func (m *Memory) Forget(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, path)
	return nil
}

// Close implements Journal.
func (m *Memory) Close() error {
	return nil
}
