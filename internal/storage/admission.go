// Package storage gates persistent writes on free space and runs the
// retention cleanup that keeps the device from filling up.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kozaktomas/facegate/internal/failure"
)

// DefaultRetention is how long ledger rows are kept before cleanup may drop them.
const DefaultRetention = 90 * 24 * time.Hour

// Probe reports storage capacity.
type Probe interface {
	AvailableInternalBytes(ctx context.Context) (int64, error)
	ExternalStorageMounted(ctx context.Context) bool
	// AvailableExternalBytes returns false when no writable external medium is mounted.
	AvailableExternalBytes(ctx context.Context) (int64, bool)
}

// Cleaner deletes ledger rows older than cutoff and returns the count removed.
type Cleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Observer receives tier and cleanup notifications. Metrics implement it.
type Observer interface {
	TierObserved(t Tier, availableBytes int64)
	CleanupRun(source string, deleted int64, err error)
}

// Admission is the outcome of a successful admission check.
type Admission struct {
	Health Health
	// Alert is set for Warning and Critical tiers and after a cleanup pass.
	Alert     string
	CleanedUp bool
	Deleted   int64
}

// Controller runs the check, cleanup and recheck sequence before writes.
type Controller struct {
	probe      Probe
	cleaner    Cleaner
	watermarks Watermarks
	retention  time.Duration
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time

	// mu makes the whole admission sequence exclusive so concurrent low-space
	// writers trigger at most one cleanup pass each, one at a time.
	mu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithWatermarks overrides DefaultWatermarks.
func WithWatermarks(w Watermarks) Option {
	return func(c *Controller) { c.watermarks = w }
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithObserver reports tiers and cleanups to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller.
func NewController(probe Probe, cleaner Cleaner, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		probe:      probe,
		cleaner:    cleaner,
		watermarks: DefaultWatermarks,
		retention:  DefaultRetention,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.watermarks.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Retention returns the configured retention age.
func (c *Controller) Retention() time.Duration {
	return c.retention
}

// Health measures capacity without side effects.
func (c *Controller) Health(ctx context.Context) (Health, error) {
	avail, err := c.probe.AvailableInternalBytes(ctx)
	if err != nil {
		return Health{}, fmt.Errorf("probing internal storage: %w", err)
	}
	h := Health{AvailableInternalBytes: avail, Tier: c.watermarks.Classify(avail)}
	if ext, ok := c.probe.AvailableExternalBytes(ctx); ok {
		h.AvailableExternalBytes = &ext
	}
	return h, nil
}

// Admit must be called before writing a template or attendance event.
// Below the floor it runs exactly one retention cleanup and one recheck; if
// space is still short it returns a failure.KindInsufficientStorage error
// carrying the external-storage situation.
func (c *Controller) Admit(ctx context.Context) (Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	avail, err := c.probe.AvailableInternalBytes(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("probing internal storage: %w", err)
	}
	tier := c.watermarks.Classify(avail)
	c.observeTier(tier, avail)

	adm := Admission{Health: Health{AvailableInternalBytes: avail, Tier: tier}}

	switch tier {
	case Normal:
		return adm, nil
	case Warning:
		adm.Alert = lowSpaceMessage(tier, avail)
		c.logger.Info("storage warning", "available", humanize.IBytes(uint64(avail)))
		return adm, nil
	case Critical:
		adm.Alert = lowSpaceMessage(tier, avail)
		c.logger.Warn("storage critical", "available", humanize.IBytes(uint64(avail)))
		return adm, nil
	}

	cutoff := c.now().Add(-c.retention)
	deleted, cleanErr := c.cleaner.DeleteOlderThan(ctx, cutoff)
	if c.observer != nil {
		c.observer.CleanupRun("admission", deleted, cleanErr)
	}
	adm.CleanedUp = true
	adm.Deleted = deleted
	if cleanErr != nil {
		c.logger.Error("storage auto-cleanup failed", "error", cleanErr, "cutoff", cutoff)
	} else {
		c.logger.Warn("storage auto-cleanup ran",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339),
			"available_before", humanize.IBytes(uint64(avail)),
		)
	}

	after, err := c.probe.AvailableInternalBytes(ctx)
	if err != nil {
		return adm, fmt.Errorf("probing internal storage after cleanup: %w", err)
	}
	adm.Health.AvailableInternalBytes = after
	c.observeTier(c.watermarks.Classify(after), after)

	if after >= c.watermarks.Floor {
		adm.Alert = cleanupMessage(deleted, after)
		return adm, nil
	}

	// No second pass: report what the caller can do instead.
	var (
		extAvailable bool
		extMB        *int64
	)
	if c.probe.ExternalStorageMounted(ctx) {
		if ext, ok := c.probe.AvailableExternalBytes(ctx); ok {
			extAvailable = true
			m := ext / mb
			extMB = &m
			adm.Health.AvailableExternalBytes = &ext
		}
	}
	internalMB := after / mb
	c.logger.Error("storage admission refused",
		"available", humanize.IBytes(uint64(after)),
		"external_available", extAvailable,
	)
	return adm, failure.InsufficientStorage(internalMB, extAvailable, extMB,
		insufficientMessage(internalMB, extAvailable, extMB))
}

func (c *Controller) observeTier(t Tier, avail int64) {
	if c.observer != nil {
		c.observer.TierObserved(t, avail)
	}
}
