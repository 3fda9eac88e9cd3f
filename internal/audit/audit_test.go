package audit

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLog_AppendAndForEntity(t *testing.T) {
	l := NewLog(discardLogger())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	l.Append("d-1", domain.AuditEntry{Action: domain.ActionCreate, Actor: "admin", Timestamp: now})
	l.Append("d-2", domain.AuditEntry{Action: domain.ActionCreate, Actor: "admin", Timestamp: now})
	l.Append("d-1", domain.AuditEntry{Action: domain.ActionDelete, Actor: "admin", Timestamp: now.Add(time.Minute)})

	entries := l.ForEntity("d-1")
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionCreate, entries[0].Action)
	assert.Equal(t, domain.ActionDelete, entries[1].Action)
	assert.Equal(t, "d-1", entries[1].EntityID)
	assert.Equal(t, 3, l.Len())
}

func TestLog_ForUnknownEntityIsEmpty(t *testing.T) {
	l := NewLog(discardLogger())
	entries := l.ForEntity("missing")
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestLog_DetailsAreCopied(t *testing.T) {
	l := NewLog(discardLogger())
	details := map[string]any{"title": "NYC Flood"}

	l.Append("d-1", domain.AuditEntry{Action: domain.ActionUpdate, Details: details})
	details["title"] = "changed"

	got := l.ForEntity("d-1")
	got[0].Details["title"] = "also changed"

	assert.Equal(t, "NYC Flood", l.ForEntity("d-1")[0].Details["title"])
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := NewLog(discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append("d-1", domain.AuditEntry{Action: domain.ActionUpdate})
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
	assert.Len(t, l.ForEntity("d-1"), 50)
}
