package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/biocrypt"
	"github.com/kozaktomas/facegate/internal/cache"
	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	_ "github.com/kozaktomas/facegate/internal/database/postgres"
	_ "github.com/kozaktomas/facegate/internal/database/sqlite"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/ledger"
	"github.com/kozaktomas/facegate/internal/logger"
	"github.com/kozaktomas/facegate/internal/metrics"
	"github.com/kozaktomas/facegate/internal/storage"
	"github.com/kozaktomas/facegate/internal/worker"
)

// app owns every long-lived component. Commands build the part they need and
// release it with close.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   database.Store
	ledger  *ledger.Ledger
	storage *storage.Controller

	// Set by withService.
	cache   *cache.Cache
	pool    *worker.Pool
	service *attendance.Service
}

// newApp loads and validates configuration, opens the store and builds the
// ledger and storage controller. Template decryption is not touched.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	m := metrics.New()

	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN(), log)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
	}

	l, err := newLedger(cfg, store, log, m)
	if err != nil {
		store.Close()
		return nil, err
	}

	ctrl, err := storage.NewController(
		storage.DiskProbe{InternalPath: cfg.Storage.DataDir, ExternalPath: cfg.Storage.ExternalPath},
		l, log,
		storage.WithWatermarks(storage.Watermarks{
			High:  cfg.Storage.HighWatermarkMB << 20,
			Low:   cfg.Storage.LowWatermarkMB << 20,
			Floor: cfg.Storage.FloorMB << 20,
		}),
		storage.WithRetention(cfg.Storage.Retention()),
		storage.WithObserver(m),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("storage controller: %w", err)
	}

	return &app{cfg: cfg, logger: log, metrics: m, store: store, ledger: l, storage: ctrl}, nil
}

// newLedger builds the ledger with the configured schedule and windows.
func newLedger(cfg *config.Config, store database.Store, log *slog.Logger, m *metrics.Metrics) (*ledger.Ledger, error) {
	start, end, err := cfg.Ledger.Schedule.Parse()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Ledger.Schedule.Location()
	if err != nil {
		return nil, err
	}
	return ledger.New(store, store, log,
		ledger.WithHorizon(cfg.Ledger.Horizon),
		ledger.WithPairWindow(cfg.Ledger.PairWindow),
		ledger.WithSchedule(ledger.Schedule{
			WorkStart: start,
			WorkEnd:   end,
			Grace:     cfg.Ledger.Schedule.Grace,
			Location:  loc,
		}),
		ledger.WithObserver(m),
	), nil
}

// withService unlocks the template key and builds the cache, worker pool and
// attendance service.
func (a *app) withService(ctx context.Context) error {
	sealer, err := biocrypt.LoadSealer(ctx, a.store, a.cfg.Crypto.Passphrase)
	if err != nil {
		return fmt.Errorf("unlocking template key (check FACEGATE_PASSPHRASE): %w", err)
	}

	c, err := cache.New(a.store, sealer, a.cfg.Match.Dimension, a.cfg.Cache.MaxOwners, a.logger, cache.WithObserver(a.metrics))
	if err != nil {
		return fmt.Errorf("embedding cache: %w", err)
	}

	pool := worker.New(a.cfg.Worker.PoolSize)
	svc, err := attendance.New(attendance.Deps{
		Cache:     c,
		Ledger:    a.ledger,
		Admission: a.storage,
		Sealer:    sealer,
		Pool:      pool,
		Logger:    a.logger,
	}, attendance.Config{
		Dimension: a.cfg.Match.Dimension,
		Thresholds: facematch.Thresholds{
			Default: a.cfg.Match.DefaultThreshold,
			Strong:  a.cfg.Match.StrongThreshold,
		},
		DuplicateThreshold: a.cfg.Match.DuplicateThreshold,
		MinSamples:         a.cfg.Enrollment.MinSamples,
		MaxSamples:         a.cfg.Enrollment.MaxSamples,
		MinQuality:         a.cfg.Enrollment.MinQuality,
		CheckInWindow:      a.cfg.Ledger.DedupWindow.CheckIn,
		CheckOutWindow:     a.cfg.Ledger.DedupWindow.CheckOut,
		FailureWindow:      a.cfg.Ledger.FailureWindow,
	}, attendance.WithRecorder(a.metrics))
	if err != nil {
		pool.Close()
		return err
	}

	a.cache, a.pool, a.service = c, pool, svc
	return nil
}

// close releases the pool and the store.
func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", "error", err)
	}
}

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// formatDuration renders d at a human granularity.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
