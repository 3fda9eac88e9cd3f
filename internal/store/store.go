// Package store holds the authoritative set of disaster records.
//
// The Store is the single serialization point for mutations. Create, Update,
// and Delete each run under one write lock that covers validation,
// persistence, the audit append, and event emission, so the order events are
// published in is exactly the order mutations commit in. Reads take a read
// lock and return deep copies; they never observe a half-applied mutation.
//
// Persistence is delegated to a Backend. The store keeps its own ordered
// index, hydrated from Backend.Load at startup, so reads never hit the
// backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/couchcryptid/disaster-coordination-service/internal/audit"
	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Backend persists records. Implementations need not be safe for concurrent
// mutation; the Store serializes all calls to Put and Delete.
type Backend interface {
	// Load returns every stored record in insertion order.
	Load(ctx context.Context) ([]domain.Disaster, error)
	// Put inserts or replaces a record, keeping its original position.
	Put(ctx context.Context, d domain.Disaster) error
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Publisher receives committed events. Publish must not block.
type Publisher interface {
	Publish(ev domain.Event)
}

// Filter narrows List results. The zero value matches every record.
type Filter struct {
	Tag string
}

func (f Filter) matches(d domain.Disaster) bool {
	return f.Tag == "" || d.HasTag(f.Tag)
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for creation and audit timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithIDGenerator overrides UUID generation for record identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the record store.
type Store struct {
	mu      sync.RWMutex
	order   []string
	records map[string]domain.Disaster
	seq     uint64

	backend   Backend
	publisher Publisher
	audit     *audit.Log
	clock     clockwork.Clock
	newID     func() string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Store and hydrates it from the backend.
func New(ctx context.Context, backend Backend, publisher Publisher, auditLog *audit.Log, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) (*Store, error) {
	s := &Store{
		records:   make(map[string]domain.Disaster),
		backend:   backend,
		publisher: publisher,
		audit:     auditLog,
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(s)
	}

	existing, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	for _, d := range existing {
		if _, dup := s.records[d.ID]; dup {
			return nil, fmt.Errorf("load records: duplicate id %q", d.ID)
		}
		s.records[d.ID] = d.Clone()
		s.order = append(s.order, d.ID)
	}
	logger.Info("record store ready", "records", len(s.order))
	return s, nil
}

// CheckReadiness reports whether the backend is reachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("store backend unavailable: %w", err)
		}
	}
	return nil
}

// Create inserts a new record owned by the caller.
func (s *Store) Create(ctx context.Context, who domain.Identity, in domain.DisasterInput) (domain.Disaster, error) {
	if err := in.Validate(); err != nil {
		s.observe(domain.ActionCreate, err)
		return domain.Disaster{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	d := domain.Disaster{
		ID:           s.newID(),
		Title:        in.Title,
		LocationName: in.LocationName,
		Description:  in.Description,
		Tags:         domain.NormalizeTags(in.Tags),
		OwnerID:      who.UserID,
		CreatedAt:    now,
		AuditTrail:   []domain.AuditEntry{},
	}
	if in.Location != nil {
		loc := *in.Location
		d.Location = &loc
	}
	if _, exists := s.records[d.ID]; exists {
		err := fmt.Errorf("create disaster: generated id %q already in use", d.ID)
		s.observe(domain.ActionCreate, err)
		return domain.Disaster{}, err
	}

	if err := s.backend.Put(ctx, d); err != nil {
		err = fmt.Errorf("persist disaster: %w", err)
		s.observe(domain.ActionCreate, err)
		return domain.Disaster{}, err
	}
	s.records[d.ID] = d
	s.order = append(s.order, d.ID)

	s.audit.Append(d.ID, domain.AuditEntry{
		Action:    domain.ActionCreate,
		Actor:     who.UserID,
		Timestamp: now,
		Details:   map[string]any{"title": d.Title},
	})
	s.emit(domain.EventDisasterCreated, d.ID, &d)
	s.observe(domain.ActionCreate, nil)

	s.logger.Info("disaster created", "disaster_id", d.ID, "user", who.UserID)
	return d.Clone(), nil
}

// Get returns the record with the given id.
func (s *Store) Get(_ context.Context, id string) (domain.Disaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.records[id]
	if !ok {
		return domain.Disaster{}, fmt.Errorf("%w: disaster %q", domain.ErrNotFound, id)
	}
	return d.Clone(), nil
}

// List returns matching records in insertion order.
func (s *Store) List(ctx context.Context, f Filter) ([]domain.Disaster, error) {
	records, _, err := s.Snapshot(ctx, f)
	return records, err
}

// Snapshot returns matching records together with the sequence number of the
// last mutation they reflect. A consumer that applies every event with a
// higher sequence number stays identical to the store.
func (s *Store) Snapshot(_ context.Context, f Filter) ([]domain.Disaster, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Disaster, 0, len(s.order))
	for _, id := range s.order {
		d := s.records[id]
		if f.matches(d) {
			out = append(out, d.Clone())
		}
	}
	return out, s.seq, nil
}

// Seq returns the sequence number of the last committed mutation.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Update merges patch into the record with the given id.
func (s *Store) Update(ctx context.Context, who domain.Identity, id string, patch domain.DisasterPatch) (domain.Disaster, error) {
	if err := patch.Validate(); err != nil {
		s.observe(domain.ActionUpdate, err)
		return domain.Disaster{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		err := fmt.Errorf("%w: disaster %q", domain.ErrNotFound, id)
		s.observe(domain.ActionUpdate, err)
		return domain.Disaster{}, err
	}

	updated := current.Clone()
	fields := patch.Apply(&updated)
	entry := domain.AuditEntry{
		Action:    domain.ActionUpdate,
		Actor:     who.UserID,
		Timestamp: s.clock.Now().UTC(),
		Details:   map[string]any{"fields": fields},
	}
	updated.AuditTrail = append(updated.AuditTrail, entry)

	if err := s.backend.Put(ctx, updated); err != nil {
		err = fmt.Errorf("persist disaster: %w", err)
		s.observe(domain.ActionUpdate, err)
		return domain.Disaster{}, err
	}
	s.records[id] = updated

	s.audit.Append(id, entry)
	s.emit(domain.EventDisasterUpdated, id, &updated)
	s.observe(domain.ActionUpdate, nil)

	s.logger.Info("disaster updated", "disaster_id", id, "user", who.UserID, "fields", fields)
	return updated.Clone(), nil
}

// Delete removes the record with the given id. The audit log keeps the final
// snapshot.
func (s *Store) Delete(ctx context.Context, who domain.Identity, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		err := fmt.Errorf("%w: disaster %q", domain.ErrNotFound, id)
		s.observe(domain.ActionDelete, err)
		return err
	}

	if err := s.backend.Delete(ctx, id); err != nil {
		err = fmt.Errorf("delete disaster: %w", err)
		s.observe(domain.ActionDelete, err)
		return err
	}
	delete(s.records, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}

	s.audit.Append(id, domain.AuditEntry{
		Action:    domain.ActionDelete,
		Actor:     who.UserID,
		Timestamp: s.clock.Now().UTC(),
		Details:   map[string]any{"snapshot": current},
	})
	s.emit(domain.EventDisasterDeleted, id, nil)
	s.observe(domain.ActionDelete, nil)

	s.logger.Info("disaster deleted", "disaster_id", id, "user", who.UserID)
	return nil
}

// emit must be called with s.mu held for writing.
func (s *Store) emit(t domain.EventType, id string, d *domain.Disaster) {
	s.seq++
	ev := domain.Event{Type: t, Seq: s.seq, ID: id}
	if d != nil {
		c := d.Clone()
		ev.Disaster = &c
	}
	s.publisher.Publish(ev)
}

func (s *Store) observe(action domain.AuditAction, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("mutation failed", "action", action, "error", err)
		}
	}
	s.metrics.Mutations.WithLabelValues(string(action), outcome).Inc()
}
