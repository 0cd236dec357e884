package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/lib/pq"
)

// GetConfig returns the value stored under key.
func (p *Pool) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = $1", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	return v, true, nil
}

// SetConfig upserts key.
func (p *Pool) SetConfig(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

// InsertTemplates stores all templates in one transaction.
func (p *Pool) InsertTemplates(ctx context.Context, templates []database.EnrollmentTemplate) error {
	if len(templates) == 0 {
		return nil
	}
	return p.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, t := range templates {
			created := t.CreatedAt
			if created.IsZero() {
				created = now
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO templates (owner_id, encrypted_vector, sample_index, quality_score, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, t.OwnerID, t.EncryptedVector, t.SampleIndex, t.QualityScore, created)
			if err != nil {
				return fmt.Errorf("insert template %s/%d: %w", t.OwnerID, t.SampleIndex, err)
			}
		}
		return nil
	})
}

// DeleteTemplatesForOwner removes every template of ownerID.
func (p *Pool) DeleteTemplatesForOwner(ctx context.Context, ownerID string) (int64, error) {
	res, err := p.db.ExecContext(ctx, "DELETE FROM templates WHERE owner_id = $1", ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete templates for %s: %w", ownerID, err)
	}
	return res.RowsAffected()
}

// TemplatesForOwner returns ownerID's templates ordered by sample index.
func (p *Pool) TemplatesForOwner(ctx context.Context, ownerID string) ([]database.EnrollmentTemplate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, encrypted_vector, sample_index, quality_score, created_at
		FROM templates WHERE owner_id = $1 ORDER BY sample_index, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query templates for %s: %w", ownerID, err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// AllTemplates returns every template ordered by owner, then sample index.
func (p *Pool) AllTemplates(ctx context.Context) ([]database.EnrollmentTemplate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, encrypted_vector, sample_index, quality_score, created_at
		FROM templates ORDER BY owner_id, sample_index, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// CountTemplatesForOwner counts ownerID's templates.
func (p *Pool) CountTemplatesForOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM templates WHERE owner_id = $1", ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count templates for %s: %w", ownerID, err)
	}
	return n, nil
}

func scanTemplates(rows *sql.Rows) ([]database.EnrollmentTemplate, error) {
	var out []database.EnrollmentTemplate
	for rows.Next() {
		var t database.EnrollmentTemplate
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.EncryptedVector, &t.SampleIndex, &t.QualityScore, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

const eventColumns = "id, owner_id, kind, ts, confidence, device_id, is_late, is_early_departure, pair_id, synced"

// InsertEvent appends an admitted event.
func (p *Pool) InsertEvent(ctx context.Context, e database.AttendanceEvent) error {
	var pairID sql.NullString
	if e.PairID != "" {
		pairID = sql.NullString{String: e.PairID, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.OwnerID, string(e.Kind), e.Timestamp.UTC(), e.Confidence, e.DeviceID,
		e.IsLate, e.IsEarlyDeparture, pairID, e.Synced)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

// EventsBetween returns events with start <= ts < end, oldest first.
func (p *Pool) EventsBetween(ctx context.Context, start, end time.Time) ([]database.AttendanceEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM attendance_events
		WHERE ts >= $1 AND ts < $2 ORDER BY ts, id
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LastEventOfKindSince returns the newest event of kind after since, or nil.
func (p *Pool) LastEventOfKindSince(ctx context.Context, ownerID string, kind database.EventKind, since time.Time) (*database.AttendanceEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM attendance_events
		WHERE owner_id = $1 AND kind = $2 AND ts > $3
		ORDER BY ts DESC, id DESC LIMIT 1
	`, ownerID, string(kind), since.UTC())
	return optionalEvent(row)
}

// CountEventsOfKindBetween counts events of kind with after < ts < before.
func (p *Pool) CountEventsOfKindBetween(ctx context.Context, ownerID string, kind database.EventKind, after, before time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance_events
		WHERE owner_id = $1 AND kind = $2 AND ts > $3 AND ts < $4
	`, ownerID, string(kind), after.UTC(), before.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s events for %s: %w", kind, ownerID, err)
	}
	return n, nil
}

// OpenCheckIn returns the newest check-in after since whose pair has no check-out.
func (p *Pool) OpenCheckIn(ctx context.Context, ownerID string, since time.Time) (*database.AttendanceEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM attendance_events e
		WHERE e.owner_id = $1 AND e.kind = 'check_in' AND e.ts > $2
		  AND NOT EXISTS (
		    SELECT 1 FROM attendance_events o
		    WHERE o.kind = 'check_out' AND o.pair_id = e.pair_id
		  )
		ORDER BY e.ts DESC, e.id DESC LIMIT 1
	`, ownerID, since.UTC())
	return optionalEvent(row)
}

// MarkEventsSynced flags the given events as synced.
func (p *Pool) MarkEventsSynced(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := p.db.ExecContext(ctx,
		"UPDATE attendance_events SET synced = TRUE WHERE id = ANY($1) AND NOT synced", pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("mark events synced: %w", err)
	}
	return res.RowsAffected()
}

// DeleteEventsOlderThan removes events with ts < cutoff.
func (p *Pool) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, "DELETE FROM attendance_events WHERE ts < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func optionalEvent(row *sql.Row) (*database.AttendanceEvent, error) {
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanEvent(r rowScanner) (*database.AttendanceEvent, error) {
	var (
		e      database.AttendanceEvent
		kind   string
		pairID sql.NullString
	)
	err := r.Scan(&e.ID, &e.OwnerID, &kind, &e.Timestamp, &e.Confidence, &e.DeviceID,
		&e.IsLate, &e.IsEarlyDeparture, &pairID, &e.Synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = database.EventKind(kind)
	e.Timestamp = e.Timestamp.UTC()
	e.PairID = pairID.String
	return &e, nil
}

// InsertAudit appends one attempt record.
func (p *Pool) InsertAudit(ctx context.Context, r database.AuditRecord) error {
	var (
		prev   sql.NullTime
		errMsg sql.NullString
	)
	if r.PreviousAttemptAt != nil {
		prev = sql.NullTime{Time: r.PreviousAttemptAt.UTC(), Valid: true}
	}
	if r.ErrorMessage != "" {
		errMsg = sql.NullString{String: r.ErrorMessage, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, owner_id, ts, kind, confidence, image_hash, device_id,
			attempt_number, previous_attempt, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, r.ID, r.OwnerID, r.Timestamp.UTC(), string(r.Kind), r.Confidence, r.ImageHash, r.DeviceID,
		r.AttemptNumber, prev, r.Success, errMsg)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", r.ID, err)
	}
	return nil
}

// RecentAudits returns up to limit records, newest first. limit <= 0 means all.
func (p *Pool) RecentAudits(ctx context.Context, limit int) ([]database.AuditRecord, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, ts, kind, confidence, image_hash, device_id,
			attempt_number, previous_attempt, success, error_message
		FROM audit_records ORDER BY ts DESC, seq DESC LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []database.AuditRecord
	for rows.Next() {
		var (
			r      database.AuditRecord
			kind   string
			prev   sql.NullTime
			errMsg sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Timestamp, &kind, &r.Confidence, &r.ImageHash, &r.DeviceID,
			&r.AttemptNumber, &prev, &r.Success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.Kind = database.EventKind(kind)
		if prev.Valid {
			t := prev.Time.UTC()
			r.PreviousAttemptAt = &t
		}
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return out, nil
}

// CountFailuresSince counts unsuccessful attempts attributed to ownerID after since.
func (p *Pool) CountFailuresSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_records WHERE owner_id = $1 AND NOT success AND ts > $2",
		ownerID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures for %s: %w", ownerID, err)
	}
	return n, nil
}

// AttemptStatsSince summarizes records for (ownerID, kind) after since.
func (p *Pool) AttemptStatsSince(ctx context.Context, ownerID string, kind database.EventKind, since time.Time) (database.AttemptStats, error) {
	var (
		stats database.AttemptStats
		last  sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(ts) FROM audit_records
		WHERE owner_id = $1 AND kind = $2 AND ts > $3
	`, ownerID, string(kind), since.UTC()).Scan(&stats.Count, &last)
	if err != nil {
		return stats, fmt.Errorf("attempt stats for %s: %w", ownerID, err)
	}
	if last.Valid {
		t := last.Time.UTC()
		stats.LastAt = &t
	}
	return stats, nil
}

// DeleteAuditsOlderThan removes records with ts < cutoff.
func (p *Pool) DeleteAuditsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, "DELETE FROM audit_records WHERE ts < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete audits: %w", err)
	}
	return res.RowsAffected()
}
