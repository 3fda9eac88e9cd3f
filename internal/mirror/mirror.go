// Package mirror keeps a client-side copy of the record set converged with
// the server.
//
// A Mirror is seeded from a full list fetch and then advanced by broadcast
// events. Every mutation event carries the store's commit sequence number;
// the mirror remembers the last one it applied, so redelivered events are
// ignored and a skipped number is reported as a gap that needs a refetch.
package mirror

import (
	"slices"
	"sync"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
)

// Mirror is an ordered local copy of the record set. It is safe for
// concurrent use.
type Mirror struct {
	mu      sync.RWMutex
	order   []string
	records map[string]domain.Disaster
	seq     uint64
}

// New creates an empty mirror.
func New() *Mirror {
	return &Mirror{records: make(map[string]domain.Disaster)}
}

// Reset replaces the whole mirror with records, which reflect the store at
// sequence number seq.
func (m *Mirror) Reset(records []domain.Disaster, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order = make([]string, 0, len(records))
	m.records = make(map[string]domain.Disaster, len(records))
	for _, d := range records {
		if _, dup := m.records[d.ID]; !dup {
			m.order = append(m.order, d.ID)
		}
		m.records[d.ID] = d.Clone()
	}
	m.seq = seq
}

// Apply reconciles one broadcast event. Created and updated records replace
// the local copy entirely or are appended; deleted records are removed, and
// removing an absent record is a no-op.
//
// applied is false for events that changed nothing: auxiliary events and
// events at or below the last applied sequence number. gap is true when the
// event skipped at least one sequence number; the event is still applied,
// but the caller should refetch to pick up what it missed.
func (m *Mirror) Apply(ev domain.Event) (applied, gap bool) {
	if !ev.Type.IsMutation() {
		return false, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Seq != 0 {
		if ev.Seq <= m.seq {
			return false, false
		}
		gap = ev.Seq > m.seq+1
		m.seq = ev.Seq
	}

	switch ev.Type {
	case domain.EventDisasterCreated, domain.EventDisasterUpdated:
		if ev.Disaster == nil {
			return false, gap
		}
		if _, ok := m.records[ev.ID]; !ok {
			m.order = append(m.order, ev.ID)
		}
		m.records[ev.ID] = ev.Disaster.Clone()
	case domain.EventDisasterDeleted:
		if _, ok := m.records[ev.ID]; !ok {
			return false, gap
		}
		delete(m.records, ev.ID)
		if i := slices.Index(m.order, ev.ID); i >= 0 {
			m.order = slices.Delete(m.order, i, i+1)
		}
	}
	return true, gap
}

// Records returns copies of all records in mirror order.
func (m *Mirror) Records() []domain.Disaster {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Disaster, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}
	return out
}

// Get returns a copy of the record with the given id.
func (m *Mirror) Get(id string) (domain.Disaster, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.records[id]
	if !ok {
		return domain.Disaster{}, false
	}
	return d.Clone(), true
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Seq returns the sequence number of the last applied event or reset.
func (m *Mirror) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seq
}
