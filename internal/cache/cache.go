// Package cache keeps decrypted enrollment vectors in memory in front of the
// template store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kozaktomas/facegate/internal/biocrypt"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/failure"
)

// DefaultMaxOwners bounds the per-owner view.
const DefaultMaxOwners = 200

// Stats is a point-in-time snapshot for operational visibility.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	OwnerEntries int   `json:"ownerEntries"`
}

// Observer receives hit/miss notifications. Metrics implement it.
type Observer interface {
	CacheHit(view string)
	CacheMiss(view string)
}

// Cache holds two views: an LRU of per-owner candidates and a single
// population-wide sweep view. Each view entry is immutable once published.
type Cache struct {
	store    database.TemplateStore
	sealer   *biocrypt.Sealer
	dim      int
	logger   *slog.Logger
	observer Observer

	owners *lru.Cache[string, []facematch.Candidate]
	all    atomic.Pointer[[]facematch.Candidate]

	// mu serializes mutation and miss repopulation so a stale load never
	// overwrites a newer invalidation.
	mu sync.Mutex

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithObserver reports hits and misses to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New creates a cache over store. maxOwners <= 0 uses DefaultMaxOwners.
func New(store database.TemplateStore, sealer *biocrypt.Sealer, dim, maxOwners int, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if maxOwners <= 0 {
		maxOwners = DefaultMaxOwners
	}
	if logger == nil {
		logger = slog.Default()
	}
	owners, err := lru.New[string, []facematch.Candidate](maxOwners)
	if err != nil {
		return nil, fmt.Errorf("create owner cache: %w", err)
	}
	c := &Cache{
		store:  store,
		sealer: sealer,
		dim:    dim,
		logger: logger,
		owners: owners,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ForOwner returns ownerID's decrypted vectors, loading them on a miss.
func (c *Cache) ForOwner(ctx context.Context, ownerID string) ([]facematch.Candidate, error) {
	if v, ok := c.owners.Get(ownerID); ok {
		c.hit("owner")
		return v, nil
	}
	c.miss("owner")

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have filled it while we waited.
	if v, ok := c.owners.Get(ownerID); ok {
		return v, nil
	}

	templates, err := c.store.TemplatesForOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load templates for %s: %w", ownerID, err)
	}
	candidates := c.decryptAll(templates)
	c.owners.Add(ownerID, candidates)
	return candidates, nil
}

// All returns the population-wide sweep view, loading it on a miss.
func (c *Cache) All(ctx context.Context) ([]facematch.Candidate, error) {
	if p := c.all.Load(); p != nil {
		c.hit("all")
		return *p, nil
	}
	c.miss("all")

	c.mu.Lock()
	defer c.mu.Unlock()

	if p := c.all.Load(); p != nil {
		return *p, nil
	}

	templates, err := c.store.AllTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	candidates := c.decryptAll(templates)
	c.all.Store(&candidates)
	return candidates, nil
}

// Insert stores templates and invalidates every affected owner plus the sweep view.
func (c *Cache) Insert(ctx context.Context, templates []database.EnrollmentTemplate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.store.InsertTemplates(ctx, templates)
	// Invalidate even on error.
	seen := make(map[string]bool)
	for _, t := range templates {
		if !seen[t.OwnerID] {
			seen[t.OwnerID] = true
			c.owners.Remove(t.OwnerID)
		}
	}
	c.dropAllLocked()
	if err != nil {
		return fmt.Errorf("insert templates: %w", err)
	}
	return nil
}

// DeleteOwner removes ownerID's templates and invalidates both views.
func (c *Cache) DeleteOwner(ctx context.Context, ownerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.store.DeleteTemplatesForOwner(ctx, ownerID)
	c.owners.Remove(ownerID)
	c.dropAllLocked()
	if err != nil {
		return 0, fmt.Errorf("delete templates for %s: %w", ownerID, err)
	}
	return n, nil
}

// ReplaceOwner swaps ownerID's templates for a fresh set in that order and
// returns how many stored rows were removed, undecryptable ones included.
// Both steps run under the cache lock so no reader repopulates in between.
func (c *Cache) ReplaceOwner(ctx context.Context, ownerID string, templates []database.EnrollmentTemplate) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		c.owners.Remove(ownerID)
		c.dropAllLocked()
	}()

	removed, err := c.store.DeleteTemplatesForOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete templates for %s: %w", ownerID, err)
	}
	if err := c.store.InsertTemplates(ctx, templates); err != nil {
		return removed, fmt.Errorf("insert templates for %s: %w", ownerID, err)
	}
	return removed, nil
}

// InvalidateOwner drops ownerID's entry and the sweep view.
func (c *Cache) InvalidateOwner(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners.Remove(ownerID)
	c.dropAllLocked()
}

// InvalidateAll clears both views.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners.Purge()
	c.dropAllLocked()
}

// Stats returns counters and the current per-owner entry count.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		OwnerEntries: c.owners.Len(),
	}
}

func (c *Cache) dropAllLocked() {
	c.all.Store(nil)
}

// decryptAll opens every template, skipping and logging corrupt ones.
func (c *Cache) decryptAll(templates []database.EnrollmentTemplate) []facematch.Candidate {
	out := make([]facematch.Candidate, 0, len(templates))
	for _, t := range templates {
		vec, err := c.sealer.OpenVector(t.EncryptedVector)
		if err == nil && len(vec) != c.dim {
			err = fmt.Errorf("decoded %d floats, want %d", len(vec), c.dim)
		}
		if err != nil {
			c.logger.Warn("skipping corrupted template",
				"owner_id", t.OwnerID,
				"sample_index", t.SampleIndex,
				"template_id", t.ID,
				"error", failure.CorruptedTemplate(t.OwnerID, err),
			)
			continue
		}
		out = append(out, facematch.Candidate{OwnerID: t.OwnerID, Vector: vec})
	}
	return out
}

func (c *Cache) hit(view string) {
	c.hits.Add(1)
	if c.observer != nil {
		c.observer.CacheHit(view)
	}
}

func (c *Cache) miss(view string) {
	c.misses.Add(1)
	if c.observer != nil {
		c.observer.CacheMiss(view)
	}
}
