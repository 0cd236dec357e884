// Package sqlite is the embedded on-device store. All writes funnel through a
// single writer goroutine; reads share the same connection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	_ "modernc.org/sqlite"
)

// Store implements database.Store on a SQLite file.
type Store struct {
	db     *sql.DB
	writer *Worker
	logger *slog.Logger
}

var _ database.Store = (*Store)(nil)

// Open creates the parent directory, opens the database with per-connection
// pragmas and applies pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=auto_vacuum(INCREMENTAL)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
	return openDSN(ctx, dsn, logger)
}

func openDSN(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: the writer and readers never race for a lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.writer = NewWorker(db)
	return s, nil
}

var _ database.Compactor = (*Store)(nil)

// Compact releases free pages left by deletes and truncates the WAL so the
// file on disk actually shrinks.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	var busy, logFrames, checkpointed int
	if err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if busy != 0 {
		s.logger.Warn("wal checkpoint incomplete", "log_frames", logFrames, "checkpointed", checkpointed)
	}
	return nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close stops the writer after draining queued writes, then closes the database.
func (s *Store) Close() error {
	if s.writer != nil {
		s.writer.Close()
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func init() {
	database.RegisterBackend("sqlite", func(ctx context.Context, dsn string, logger *slog.Logger) (database.Store, error) {
		return Open(ctx, dsn, logger)
	})
}
