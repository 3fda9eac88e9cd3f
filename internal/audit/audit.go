// Package audit keeps the central, append-only log of record changes.
//
// Entries outlive the records they describe: a delete entry carries the final
// snapshot of the record, which makes it the tombstone for that identifier.
package audit

import (
	"log/slog"
	"maps"
	"sync"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
)

// Entry is an audit entry scoped to the entity it describes.
type Entry struct {
	EntityID string `json:"entity_id"`
	domain.AuditEntry
}

// Log is an append-only audit log safe for concurrent use.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	byEntity map[string][]int
	logger   *slog.Logger
}

// NewLog creates an empty audit log.
func NewLog(logger *slog.Logger) *Log {
	return &Log{
		byEntity: make(map[string][]int),
		logger:   logger,
	}
}

// Append records e against entityID.
func (l *Log) Append(entityID string, e domain.AuditEntry) {
	e.Details = maps.Clone(e.Details)

	l.mu.Lock()
	l.byEntity[entityID] = append(l.byEntity[entityID], len(l.entries))
	l.entries = append(l.entries, Entry{EntityID: entityID, AuditEntry: e})
	l.mu.Unlock()

	l.logger.Info("audit trail logged",
		"disaster_id", entityID,
		"action", e.Action,
		"actor", e.Actor,
	)
}

// ForEntity returns the entries for entityID in append order.
func (l *Log) ForEntity(entityID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byEntity[entityID]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, cloneEntry(l.entries[i]))
	}
	return out
}

// Len returns the total number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func cloneEntry(e Entry) Entry {
	e.Details = maps.Clone(e.Details)
	return e
}
