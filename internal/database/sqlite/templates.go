package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

const templateColumns = "id, owner_id, encrypted_vector, sample_index, quality_score, created_at_ms"

// InsertTemplates stores all templates in one transaction.
func (s *Store) InsertTemplates(ctx context.Context, templates []database.EnrollmentTemplate) error {
	if len(templates) == 0 {
		return nil
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO templates(owner_id, encrypted_vector, sample_index, quality_score, created_at_ms)
VALUES(?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare template insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now()
		for _, t := range templates {
			created := t.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := stmt.ExecContext(ctx, t.OwnerID, t.EncryptedVector, t.SampleIndex, t.QualityScore, toMillis(created)); err != nil {
				return fmt.Errorf("insert template %s/%d: %w", t.OwnerID, t.SampleIndex, err)
			}
		}
		return nil
	})
}

// DeleteTemplatesForOwner removes every template of ownerID.
func (s *Store) DeleteTemplatesForOwner(ctx context.Context, ownerID string) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM templates WHERE owner_id = ?", ownerID)
		if err != nil {
			return fmt.Errorf("delete templates for %s: %w", ownerID, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// TemplatesForOwner returns ownerID's templates ordered by sample index.
func (s *Store) TemplatesForOwner(ctx context.Context, ownerID string) ([]database.EnrollmentTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM templates WHERE owner_id = ? ORDER BY sample_index, id", ownerID)
	if err != nil {
		return nil, fmt.Errorf("query templates for %s: %w", ownerID, err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// AllTemplates returns every template ordered by owner, then sample index.
func (s *Store) AllTemplates(ctx context.Context) ([]database.EnrollmentTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM templates ORDER BY owner_id, sample_index, id")
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// CountTemplatesForOwner counts ownerID's templates.
func (s *Store) CountTemplatesForOwner(ctx context.Context, ownerID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM templates WHERE owner_id = ?", ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count templates for %s: %w", ownerID, err)
	}
	return n, nil
}

func scanTemplates(rows *sql.Rows) ([]database.EnrollmentTemplate, error) {
	var out []database.EnrollmentTemplate
	for rows.Next() {
		var (
			t         database.EnrollmentTemplate
			createdMS int64
		)
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.EncryptedVector, &t.SampleIndex, &t.QualityScore, &createdMS); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.CreatedAt = fromMillis(createdMS)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}
