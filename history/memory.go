package history

import (
	"maps"
	"sync"

	"github.com/amonks/workcache/internal/keys"
)

// Memory is an in-process Store. Records are copied on the way in and out.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Load(key string) (Record, bool, error) {
	if err := keys.Validate(key); err != nil {
		return Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return clone(rec), ok, nil
}

func (m *Memory) Store(key string, rec Record) error {
	if err := keys.Validate(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = clone(rec)
	return nil
}

func (m *Memory) Remove(key string) error {
	if err := keys.Validate(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func clone(rec Record) Record {
	rec.Outputs = maps.Clone(rec.Outputs)
	if rec.Payload != nil {
		rec.Payload = append([]byte(nil), rec.Payload...)
	}
	return rec
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*FileStore)(nil)
)
