package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

const eventColumns = "id, owner_id, kind, timestamp_ms, confidence, device_id, is_late, is_early_departure, pair_id, synced"

// InsertEvent appends an admitted event.
func (s *Store) InsertEvent(ctx context.Context, e database.AttendanceEvent) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO attendance_events(`+eventColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.OwnerID, string(e.Kind), toMillis(e.Timestamp), e.Confidence, e.DeviceID,
			boolToInt(e.IsLate), boolToInt(e.IsEarlyDeparture), nullString(e.PairID), boolToInt(e.Synced),
		)
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
		return nil
	})
}

// EventsBetween returns events with start <= timestamp < end, oldest first.
func (s *Store) EventsBetween(ctx context.Context, start, end time.Time) ([]database.AttendanceEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM attendance_events WHERE timestamp_ms >= ? AND timestamp_ms < ? ORDER BY timestamp_ms, id",
		toMillis(start), toMillis(end))
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
func (s *Store) LastEventOfKindSince(ctx context.Context, ownerID string, kind database.EventKind, since time.Time) (*database.AttendanceEvent, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+eventColumns+` FROM attendance_events
WHERE owner_id = ? AND kind = ? AND timestamp_ms > ?
ORDER BY timestamp_ms DESC, id DESC LIMIT 1`,
		ownerID, string(kind), toMillis(since))
	return optionalEvent(row)
}

// CountEventsOfKindBetween counts events of kind with after < timestamp < before.
func (s *Store) CountEventsOfKindBetween(ctx context.Context, ownerID string, kind database.EventKind, after, before time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM attendance_events
WHERE owner_id = ? AND kind = ? AND timestamp_ms > ? AND timestamp_ms < ?`,
		ownerID, string(kind), toMillis(after), toMillis(before)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s events for %s: %w", kind, ownerID, err)
	}
	return n, nil
}

// OpenCheckIn returns the newest check-in after since whose pair has no check-out.
func (s *Store) OpenCheckIn(ctx context.Context, ownerID string, since time.Time) (*database.AttendanceEvent, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+eventColumns+` FROM attendance_events e
WHERE e.owner_id = ? AND e.kind = 'check_in' AND e.timestamp_ms > ?
  AND NOT EXISTS (
    SELECT 1 FROM attendance_events o
    WHERE o.kind = 'check_out' AND o.pair_id = e.pair_id
  )
ORDER BY e.timestamp_ms DESC, e.id DESC LIMIT 1`,
		ownerID, toMillis(since))
	return optionalEvent(row)
}

// MarkEventsSynced flags the given events as synced.
func (s *Store) MarkEventsSynced(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var total int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		total = 0
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, "UPDATE attendance_events SET synced = 1 WHERE id = ? AND synced = 0", id)
			if err != nil {
				return fmt.Errorf("mark event %s synced: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

// DeleteEventsOlderThan removes events with timestamp < cutoff.
func (s *Store) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM attendance_events WHERE timestamp_ms < ?", toMillis(cutoff))
		if err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
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
		e                   database.AttendanceEvent
		kind                string
		tsMS                int64
		late, early, synced int
		pairID              sql.NullString
	)
	err := r.Scan(&e.ID, &e.OwnerID, &kind, &tsMS, &e.Confidence, &e.DeviceID, &late, &early, &pairID, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Kind = database.EventKind(kind)
	e.Timestamp = fromMillis(tsMS)
	e.IsLate = late != 0
	e.IsEarlyDeparture = early != 0
	e.Synced = synced != 0
	e.PairID = pairID.String
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
