package storage

import (
	"context"
	"log/slog"
	"time"
)

// Pruner periodically deletes ledger rows older than the retention age,
// independent of admission pressure. A retention of 0 disables it.
type Pruner struct {
	cleaner   Cleaner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	observer  Observer
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewPruner.
type PrunerConfig struct {
	// Retention is how long rows are kept. 0 keeps everything.
	Retention time.Duration
	// Interval is how often the pruner runs. Defaults to 6h.
	Interval time.Duration
	Observer Observer
}

// NewPruner creates a pruner but does not start it.
func NewPruner(c Cleaner, cfg PrunerConfig, logger *slog.Logger) *Pruner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		cleaner:   c,
		retention: cfg.Retention,
		interval:  interval,
		logger:    logger,
		observer:  cfg.Observer,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start prunes immediately, then on every interval until ctx is cancelled
// or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("retention pruner disabled", "retention", p.retention)
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("retention pruner started",
		"retention_days", int(p.retention.Hours()/24),
		"interval", p.interval.String(),
	)
}

// Stop signals the pruner to exit and waits for it.
func (p *Pruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *Pruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

// prune runs one pass and returns the rows deleted.
func (p *Pruner) prune(ctx context.Context) int64 {
	cutoff := p.now().UTC().Add(-p.retention)
	deleted, err := p.cleaner.DeleteOlderThan(ctx, cutoff)
	if p.observer != nil {
		p.observer.CleanupRun("pruner", deleted, err)
	}
	if err != nil {
		p.logger.Error("retention prune failed", "error", err)
		return 0
	}
	if deleted > 0 {
		p.logger.Info("retention prune",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return deleted
}

// RunOnce performs a single pass synchronously.
func (p *Pruner) RunOnce(ctx context.Context) int64 {
	return p.prune(ctx)
}
