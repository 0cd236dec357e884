// Package postgres stores templates, events and audit records in PostgreSQL
// for fleet deployments that centralize the ledgers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	_ "github.com/lib/pq"
)

// Config holds connection pool settings.
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Pool manages a PostgreSQL connection pool and implements database.Store.
type Pool struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ database.Store = (*Pool)(nil)

func init() {
	database.RegisterBackend("postgres", func(ctx context.Context, dsn string, logger *slog.Logger) (database.Store, error) {
		return Open(ctx, Config{URL: dsn, MaxOpenConns: 10, MaxIdleConns: 5}, logger)
	})
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db, logger: logger}, nil
}

// Open creates the pool and applies pending migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Pool, error) {
	pool, err := NewPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing on success.
func (p *Pool) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
