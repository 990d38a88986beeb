package persist

import (
	"context"
	"sync"
	"time"
)

// Memory is a Store kept in process memory. Used when no database is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][][]byte)}
}

func (m *Memory) Save(_ context.Context, collection string, payload []byte, _ time.Time) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[collection] = append(m.data[collection], cp)
	return nil
}

func (m *Memory) Latest(_ context.Context, collection string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.data[collection]
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[len(docs)-1], true, nil
}

func (m *Memory) All(_ context.Context, collection string, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.data[collection]
	if limit > 0 && len(docs) > limit {
		docs = docs[len(docs)-limit:]
	}
	out := make([][]byte, len(docs))
	copy(out, docs)
	return out, nil
}
