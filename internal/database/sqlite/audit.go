package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

const auditColumns = "id, owner_id, timestamp_ms, kind, confidence, image_hash, device_id, attempt_number, previous_attempt_at_ms, success, error_message"

// InsertAudit appends one attempt record. Records are never updated.
func (s *Store) InsertAudit(ctx context.Context, r database.AuditRecord) error {
	var prev sql.NullInt64
	if r.PreviousAttemptAt != nil {
		prev = sql.NullInt64{Int64: toMillis(*r.PreviousAttemptAt), Valid: true}
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO audit_records(`+auditColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.OwnerID, toMillis(r.Timestamp), string(r.Kind), r.Confidence, r.ImageHash, r.DeviceID,
			r.AttemptNumber, prev, boolToInt(r.Success), nullString(r.ErrorMessage),
		)
		if err != nil {
			return fmt.Errorf("insert audit %s: %w", r.ID, err)
		}
		return nil
	})
}

// RecentAudits returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) RecentAudits(ctx context.Context, limit int) ([]database.AuditRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+auditColumns+" FROM audit_records ORDER BY timestamp_ms DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []database.AuditRecord
	for rows.Next() {
		var (
			r       database.AuditRecord
			tsMS    int64
			kind    string
			prev    sql.NullInt64
			success int
			errMsg  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &tsMS, &kind, &r.Confidence, &r.ImageHash, &r.DeviceID,
			&r.AttemptNumber, &prev, &success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		r.Timestamp = fromMillis(tsMS)
		r.Kind = database.EventKind(kind)
		if prev.Valid {
			t := fromMillis(prev.Int64)
			r.PreviousAttemptAt = &t
		}
		r.Success = success != 0
		r.ErrorMessage = errMsg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return out, nil
}

// CountFailuresSince counts unsuccessful attempts attributed to ownerID after since.
func (s *Store) CountFailuresSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_records WHERE owner_id = ? AND success = 0 AND timestamp_ms > ?",
		ownerID, toMillis(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures for %s: %w", ownerID, err)
	}
	return n, nil
}

// AttemptStatsSince summarizes records for (ownerID, kind) after since.
func (s *Store) AttemptStatsSince(ctx context.Context, ownerID string, kind database.EventKind, since time.Time) (database.AttemptStats, error) {
	var (
		stats database.AttemptStats
		last  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), MAX(timestamp_ms) FROM audit_records
WHERE owner_id = ? AND kind = ? AND timestamp_ms > ?`,
		ownerID, string(kind), toMillis(since)).Scan(&stats.Count, &last)
	if err != nil {
		return stats, fmt.Errorf("attempt stats for %s: %w", ownerID, err)
	}
	if last.Valid {
		t := fromMillis(last.Int64)
		stats.LastAt = &t
	}
	return stats, nil
}

// DeleteAuditsOlderThan removes records with timestamp < cutoff.
func (s *Store) DeleteAuditsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM audit_records WHERE timestamp_ms < ?", toMillis(cutoff))
		if err != nil {
			return fmt.Errorf("delete audits: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
