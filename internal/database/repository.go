package database

import (
	"context"
	"time"
)

// ConfigStore is a small key-value area for persisted settings.
type ConfigStore interface {
	// GetConfig returns the value and whether the key exists
	GetConfig(ctx context.Context, key string) (string, bool, error)
	// SetConfig upserts a value
	SetConfig(ctx context.Context, key, value string) error
}

// TemplateReader provides read-only access to enrollment templates
type TemplateReader interface {
	// TemplatesForOwner returns an owner's templates ordered by sample index
	TemplatesForOwner(ctx context.Context, ownerID string) ([]EnrollmentTemplate, error)
	// AllTemplates returns every template ordered by owner, then sample index
	AllTemplates(ctx context.Context) ([]EnrollmentTemplate, error)
	// CountTemplatesForOwner returns how many templates an owner has
	CountTemplatesForOwner(ctx context.Context, ownerID string) (int, error)
}

// TemplateStore provides write access to enrollment templates
type TemplateStore interface {
	TemplateReader

	// InsertTemplates stores templates atomically
	InsertTemplates(ctx context.Context, templates []EnrollmentTemplate) error
	// DeleteTemplatesForOwner removes all templates of an owner and returns the count removed
	DeleteTemplatesForOwner(ctx context.Context, ownerID string) (int64, error)
}

// EventStore persists admitted attendance events
type EventStore interface {
	InsertEvent(ctx context.Context, event AttendanceEvent) error
	// EventsBetween returns events with start <= timestamp < end, oldest first
	EventsBetween(ctx context.Context, start, end time.Time) ([]AttendanceEvent, error)
	// LastEventOfKindSince returns the newest event of kind for the owner with
	// timestamp > since, or nil
	LastEventOfKindSince(ctx context.Context, ownerID string, kind EventKind, since time.Time) (*AttendanceEvent, error)
	// CountEventsOfKindBetween counts the owner's events of kind with
	// after < timestamp < before
	CountEventsOfKindBetween(ctx context.Context, ownerID string, kind EventKind, after, before time.Time) (int, error)
	// OpenCheckIn returns the newest check-in since the given time whose pair
	// has no check-out yet, or nil
	OpenCheckIn(ctx context.Context, ownerID string, since time.Time) (*AttendanceEvent, error)
	// MarkEventsSynced sets the synced flag and returns the count updated
	MarkEventsSynced(ctx context.Context, ids []string) (int64, error)
	// DeleteEventsOlderThan removes events with timestamp < cutoff
	DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore persists the forensic attempt ledger
type AuditStore interface {
	InsertAudit(ctx context.Context, record AuditRecord) error
	// RecentAudits returns the newest records first
	RecentAudits(ctx context.Context, limit int) ([]AuditRecord, error)
	// CountFailuresSince counts unsuccessful attempts for the owner with timestamp > since
	CountFailuresSince(ctx context.Context, ownerID string, since time.Time) (int, error)
	// AttemptStatsSince counts records for (owner, kind) with timestamp > since
	// and reports the newest timestamp among them
	AttemptStatsSince(ctx context.Context, ownerID string, kind EventKind, since time.Time) (AttemptStats, error)
	// DeleteAuditsOlderThan removes records with timestamp < cutoff
	DeleteAuditsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Compactor is implemented by stores that can hand freed pages back to the
// filesystem after bulk deletes.
type Compactor interface {
	Compact(ctx context.Context) error
}

// Store is the full persistent-store contract consumed by the engine.
type Store interface {
	ConfigStore
	TemplateStore
	EventStore
	AuditStore

	Close() error
}
