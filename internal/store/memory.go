package store

import (
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
)

// MemoryBackend keeps records in process memory. Contents are lost on restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	order   []string
	records map[string]domain.Disaster
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]domain.Disaster)}
}

func (m *MemoryBackend) Load(_ context.Context) ([]domain.Disaster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Disaster, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Put(_ context.Context, d domain.Disaster) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[d.ID]; !ok {
		m.order = append(m.order, d.ID)
	}
	m.records[d.ID] = d.Clone()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return nil
	}
	delete(m.records, id)
	if i := slices.Index(m.order, id); i >= 0 {
		m.order = slices.Delete(m.order, i, i+1)
	}
	return nil
}
