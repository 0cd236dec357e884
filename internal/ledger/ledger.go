// Package ledger decides whether a match becomes an attendance event and keeps
// the append-only audit trail of every attempt.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facematch"
)

const (
	// DefaultHorizon bounds how far back prior attempts are counted.
	DefaultHorizon = 24 * time.Hour
	// DefaultPairWindow bounds how far back a check-out looks for its check-in.
	DefaultPairWindow = 24 * time.Hour

	msgNoMatch = "no enrolled template matched above threshold"
)

// AttemptContext describes one match attempt.
type AttemptContext struct {
	Kind database.EventKind
	// ClaimedOwnerID attributes a NoMatch to an owner when the caller knows
	// who was expected (badge, PIN). Empty otherwise.
	ClaimedOwnerID string
	At             time.Time
	// Rejection marks an otherwise successful match as refused, e.g. a
	// duplicate-window violation or a storage failure.
	Rejection string
}

// Observer is told when an audit record could only be logged.
type Observer interface {
	AuditDegraded()
}

// Ledger wraps the event and audit stores.
type Ledger struct {
	events     database.EventStore
	audits     database.AuditStore
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
	horizon    time.Duration
	pairWindow time.Duration
	schedule   Schedule
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithHorizon sets the observation horizon for attempt numbering.
func WithHorizon(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.horizon = d
		}
	}
}

// WithPairWindow sets how far back a check-out searches for an open check-in.
func WithPairWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.pairWindow = d
		}
	}
}

// WithSchedule enables lateness and early-departure flags.
func WithSchedule(s Schedule) Option {
	return func(l *Ledger) { l.schedule = s }
}

// WithObserver reports degraded audit writes to o.
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// New creates a Ledger.
func New(events database.EventStore, audits database.AuditStore, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		events:     events,
		audits:     audits,
		logger:     logger,
		now:        time.Now,
		horizon:    DefaultHorizon,
		pairWindow: DefaultPairWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CanRecord reports false iff an event of the same (ownerID, kind) lies
// within window of at, on either side. A zero at means now. Measuring from the
// attempt time keeps replayed, backdated captures from slipping past the window.
func (l *Ledger) CanRecord(ctx context.Context, ownerID string, kind database.EventKind, window time.Duration, at time.Time) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	if at.IsZero() {
		at = l.now()
	}
	n, err := l.events.CountEventsOfKindBetween(ctx, ownerID, kind, at.Add(-window), at.Add(window))
	if err != nil {
		return false, fmt.Errorf("checking dedup window for %s: %w", ownerID, err)
	}
	return n == 0, nil
}

// RecordAttempt writes one audit record for the attempt, win or lose.
//
// If the audit store rejects the write the record is logged in full and
// returned without error: failure records must never be lost to the same
// condition that blocked the attempt.
func (l *Ledger) RecordAttempt(ctx context.Context, decision facematch.Decision, imageHash, deviceID string, ac AttemptContext) (database.AuditRecord, error) {
	at := ac.At
	if at.IsZero() {
		at = l.now()
	}

	rec := database.AuditRecord{
		ID:        uuid.NewString(),
		Timestamp: at.UTC(),
		Kind:      ac.Kind,
		ImageHash: imageHash,
		DeviceID:  deviceID,
	}

	switch d := decision.(type) {
	case facematch.Match:
		rec.OwnerID = d.OwnerID
		rec.Confidence = d.Confidence
		rec.Success = ac.Rejection == ""
		rec.ErrorMessage = ac.Rejection
	case facematch.NoMatch:
		rec.OwnerID = ac.ClaimedOwnerID
		rec.Success = false
		rec.ErrorMessage = msgNoMatch
		if ac.Rejection != "" {
			rec.ErrorMessage = ac.Rejection
		}
	default:
		return rec, fmt.Errorf("unknown decision type %T", decision)
	}

	stats, err := l.audits.AttemptStatsSince(ctx, rec.OwnerID, rec.Kind, at.Add(-l.horizon))
	if err != nil {
		// Numbering falls back to a first attempt; the record is still written.
		l.logger.Warn("attempt stats unavailable", "owner_id", rec.OwnerID, "error", err)
	}
	rec.AttemptNumber = stats.Count + 1
	rec.PreviousAttemptAt = stats.LastAt

	if err := l.audits.InsertAudit(ctx, rec); err != nil {
		l.logger.Error("audit record not persisted",
			"error", err,
			"audit_id", rec.ID,
			"owner_id", rec.OwnerID,
			"kind", rec.Kind,
			"timestamp", rec.Timestamp,
			"confidence", rec.Confidence,
			"image_hash", rec.ImageHash,
			"device_id", rec.DeviceID,
			"attempt_number", rec.AttemptNumber,
			"success", rec.Success,
			"error_message", rec.ErrorMessage,
		)
		if l.observer != nil {
			l.observer.AuditDegraded()
		}
	}
	return rec, nil
}

// RecordAdmissibleEvent persists the attendance event for a window-clear match.
// A check-in gets a fresh pair id; a check-out reuses the pair id of the
// owner's open check-in, or stays unpaired when there is none.
func (l *Ledger) RecordAdmissibleEvent(ctx context.Context, m facematch.Match, kind database.EventKind, deviceID string, at time.Time) (database.AttendanceEvent, error) {
	if at.IsZero() {
		at = l.now()
	}
	ev := database.AttendanceEvent{
		ID:         uuid.NewString(),
		OwnerID:    m.OwnerID,
		Kind:       kind,
		Timestamp:  at.UTC(),
		Confidence: m.Confidence,
		DeviceID:   deviceID,
	}

	switch kind {
	case database.CheckIn:
		ev.PairID = uuid.NewString()
		ev.IsLate = l.schedule.IsLate(at)
	case database.CheckOut:
		open, err := l.events.OpenCheckIn(ctx, m.OwnerID, at.Add(-l.pairWindow))
		if err != nil {
			return ev, fmt.Errorf("finding open check-in for %s: %w", m.OwnerID, err)
		}
		if open != nil {
			ev.PairID = open.PairID
		}
		ev.IsEarlyDeparture = l.schedule.IsEarlyDeparture(at)
	default:
		return ev, fmt.Errorf("unknown event kind %q", kind)
	}

	if err := l.events.InsertEvent(ctx, ev); err != nil {
		return ev, fmt.Errorf("inserting event: %w", err)
	}
	return ev, nil
}

// LastEventForOwner returns the owner's most recent event of either kind, or nil.
func (l *Ledger) LastEventForOwner(ctx context.Context, ownerID string) (*database.AttendanceEvent, error) {
	var last *database.AttendanceEvent
	for _, kind := range []database.EventKind{database.CheckIn, database.CheckOut} {
		ev, err := l.events.LastEventOfKindSince(ctx, ownerID, kind, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("last %s for %s: %w", kind, ownerID, err)
		}
		if ev != nil && (last == nil || ev.Timestamp.After(last.Timestamp)) {
			last = ev
		}
	}
	return last, nil
}

// RecentFailures counts failed attempts attributed to ownerID within window.
func (l *Ledger) RecentFailures(ctx context.Context, ownerID string, window time.Duration) (int, error) {
	n, err := l.audits.CountFailuresSince(ctx, ownerID, l.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("counting failures for %s: %w", ownerID, err)
	}
	return n, nil
}

// RecentAudits returns the newest audit records first.
func (l *Ledger) RecentAudits(ctx context.Context, limit int) ([]database.AuditRecord, error) {
	return l.audits.RecentAudits(ctx, limit)
}

// EventsBetween returns events in [start, end).
func (l *Ledger) EventsBetween(ctx context.Context, start, end time.Time) ([]database.AttendanceEvent, error) {
	return l.events.EventsBetween(ctx, start, end)
}

// MarkSynced flags events as delivered to the upstream system.
func (l *Ledger) MarkSynced(ctx context.Context, ids []string) (int64, error) {
	return l.events.MarkEventsSynced(ctx, ids)
}

// DeleteOlderThan removes events and audit records older than cutoff.
func (l *Ledger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := l.events.DeleteEventsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	audits, err := l.audits.DeleteAuditsOlderThan(ctx, cutoff)
	if err != nil {
		return events, fmt.Errorf("pruning audits: %w", err)
	}
	n := events + audits
	if n > 0 {
		l.compact(ctx)
	}
	return n, nil
}

// compact runs once per distinct backing store; a failure leaves the rows
// deleted and only delays reclaiming their space.
func (l *Ledger) compact(ctx context.Context) {
	var done []database.Compactor
	for _, s := range []any{l.events, l.audits} {
		c, ok := s.(database.Compactor)
		if !ok || slices.Contains(done, c) {
			continue
		}
		done = append(done, c)
		if err := c.Compact(ctx); err != nil {
			l.logger.Warn("compacting store after prune failed", "error", err)
		}
	}
}
