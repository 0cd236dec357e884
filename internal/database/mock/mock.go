// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// Store is an in-memory database.Store with error injection
type Store struct {
	mu        sync.RWMutex
	config    map[string]string
	templates []database.EnrollmentTemplate
	events    []database.AttendanceEvent
	audits    []database.AuditRecord
	nextID    int64

	// Error injection
	InsertTemplatesError error
	AllTemplatesError    error
	InsertEventError     error
	InsertAuditError     error
	DeleteError          error

	// Call counters
	AllTemplatesCalls int
	OwnerCalls        int
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{config: make(map[string]string)}
}

var _ database.Store = (*Store)(nil)

// GetConfig returns a config value
func (m *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.config[key]
	return v, ok, nil
}

// SetConfig upserts a config value
func (m *Store) SetConfig(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

// InsertTemplates appends templates, assigning IDs
func (m *Store) InsertTemplates(ctx context.Context, templates []database.EnrollmentTemplate) error {
	if m.InsertTemplatesError != nil {
		return m.InsertTemplatesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range templates {
		m.nextID++
		t.ID = m.nextID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		m.templates = append(m.templates, t)
	}
	return nil
}

// DeleteTemplatesForOwner removes an owner's templates
func (m *Store) DeleteTemplatesForOwner(ctx context.Context, ownerID string) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.templates[:0]
	var removed int64
	for _, t := range m.templates {
		if t.OwnerID == ownerID {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	m.templates = kept
	return removed, nil
}

// TemplatesForOwner returns an owner's templates by sample index
func (m *Store) TemplatesForOwner(ctx context.Context, ownerID string) ([]database.EnrollmentTemplate, error) {
	m.mu.Lock()
	m.OwnerCalls++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.EnrollmentTemplate
	for _, t := range m.templates {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	sortTemplates(out)
	return out, nil
}

// AllTemplates returns every template ordered by owner and sample index
func (m *Store) AllTemplates(ctx context.Context) ([]database.EnrollmentTemplate, error) {
	m.mu.Lock()
	m.AllTemplatesCalls++
	m.mu.Unlock()

	if m.AllTemplatesError != nil {
		return nil, m.AllTemplatesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]database.EnrollmentTemplate(nil), m.templates...)
	sortTemplates(out)
	return out, nil
}

// CountTemplatesForOwner counts an owner's templates
func (m *Store) CountTemplatesForOwner(ctx context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.templates {
		if t.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// SetTemplateCiphertext overwrites a stored ciphertext, for corruption tests
func (m *Store) SetTemplateCiphertext(ownerID string, sampleIndex int, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.templates {
		if m.templates[i].OwnerID == ownerID && m.templates[i].SampleIndex == sampleIndex {
			m.templates[i].EncryptedVector = data
		}
	}
}

func sortTemplates(ts []database.EnrollmentTemplate) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].OwnerID != ts[j].OwnerID {
			return ts[i].OwnerID < ts[j].OwnerID
		}
		if ts[i].SampleIndex != ts[j].SampleIndex {
			return ts[i].SampleIndex < ts[j].SampleIndex
		}
		return ts[i].ID < ts[j].ID
	})
}

// InsertEvent appends an event
func (m *Store) InsertEvent(ctx context.Context, event database.AttendanceEvent) error {
	if m.InsertEventError != nil {
		return m.InsertEventError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// EventsBetween returns events in [start, end), oldest first
func (m *Store) EventsBetween(ctx context.Context, start, end time.Time) ([]database.AttendanceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceEvent
	for _, e := range m.events {
		if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// LastEventOfKindSince returns the newest matching event or nil
func (m *Store) LastEventOfKindSince(ctx context.Context, ownerID string, kind database.EventKind, since time.Time) (*database.AttendanceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *database.AttendanceEvent
	for i := range m.events {
		e := m.events[i]
		if e.OwnerID != ownerID || e.Kind != kind || !e.Timestamp.After(since) {
			continue
		}
		if last == nil || e.Timestamp.After(last.Timestamp) {
			last = &e
		}
	}
	return last, nil
}

// CountEventsOfKindBetween counts matching events strictly inside (after, before)
func (m *Store) CountEventsOfKindBetween(ctx context.Context, ownerID string, kind database.EventKind, after, before time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if e.OwnerID == ownerID && e.Kind == kind && e.Timestamp.After(after) && e.Timestamp.Before(before) {
			n++
		}
	}
	return n, nil
}

// OpenCheckIn returns the newest check-in without a check-out in its pair
func (m *Store) OpenCheckIn(ctx context.Context, ownerID string, since time.Time) (*database.AttendanceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	closed := make(map[string]bool)
	for _, e := range m.events {
		if e.Kind == database.CheckOut && e.PairID != "" {
			closed[e.PairID] = true
		}
	}
	var open *database.AttendanceEvent
	for i := range m.events {
		e := m.events[i]
		if e.OwnerID != ownerID || e.Kind != database.CheckIn || !e.Timestamp.After(since) || closed[e.PairID] {
			continue
		}
		if open == nil || e.Timestamp.After(open.Timestamp) {
			open = &e
		}
	}
	return open, nil
}

// MarkEventsSynced sets the synced flag
func (m *Store) MarkEventsSynced(ctx context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for i := range m.events {
		if want[m.events[i].ID] && !m.events[i].Synced {
			m.events[i].Synced = true
			n++
		}
	}
	return n, nil
}

// DeleteEventsOlderThan removes events before cutoff
func (m *Store) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, e := range m.events {
		if e.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

// Events returns a copy of all events
func (m *Store) Events() []database.AttendanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AttendanceEvent(nil), m.events...)
}

// InsertAudit appends an audit record
func (m *Store) InsertAudit(ctx context.Context, record database.AuditRecord) error {
	if m.InsertAuditError != nil {
		return m.InsertAuditError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, record)
	return nil
}

// RecentAudits returns the newest records first
func (m *Store) RecentAudits(ctx context.Context, limit int) ([]database.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]database.AuditRecord(nil), m.audits...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountFailuresSince counts unsuccessful attempts for an owner
func (m *Store) CountFailuresSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.audits {
		if a.OwnerID == ownerID && !a.Success && a.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}

// AttemptStatsSince summarizes prior attempts for (owner, kind)
func (m *Store) AttemptStatsSince(ctx context.Context, ownerID string, kind database.EventKind, since time.Time) (database.AttemptStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats database.AttemptStats
	for _, a := range m.audits {
		if a.OwnerID != ownerID || a.Kind != kind || !a.Timestamp.After(since) {
			continue
		}
		stats.Count++
		if stats.LastAt == nil || a.Timestamp.After(*stats.LastAt) {
			ts := a.Timestamp
			stats.LastAt = &ts
		}
	}
	return stats, nil
}

// DeleteAuditsOlderThan removes audit records before cutoff
func (m *Store) DeleteAuditsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.audits[:0]
	var n int64
	for _, a := range m.audits {
		if a.Timestamp.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	m.audits = kept
	return n, nil
}

// Audits returns a copy of all audit records
func (m *Store) Audits() []database.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]database.AuditRecord(nil), m.audits...)
}

// Close is a no-op
func (m *Store) Close() error {
	return nil
}
