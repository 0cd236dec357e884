package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facegate/internal/biocrypt"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/database/mock"
)

const testDim = 4

func newTestCache(t *testing.T, maxOwners int) (*Cache, *mock.Store, *biocrypt.Sealer) {
	t.Helper()
	sealer, err := biocrypt.NewSealer(biocrypt.DeriveKey("pass", []byte("0123456789abcdef")))
	require.NoError(t, err)
	store := mock.NewStore()
	c, err := New(store, sealer, testDim, maxOwners, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c, store, sealer
}

func seal(t *testing.T, s *biocrypt.Sealer, ownerID string, idx int, v []float32) database.EnrollmentTemplate {
	t.Helper()
	b, err := s.SealVector(v)
	require.NoError(t, err)
	return database.EnrollmentTemplate{OwnerID: ownerID, EncryptedVector: b, SampleIndex: idx, QualityScore: 90}
}

func TestForOwner_MissThenHit(t *testing.T) {
	c, store, s := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, store.InsertTemplates(ctx, []database.EnrollmentTemplate{
		seal(t, s, "alice", 1, []float32{1, 0, 0, 0}),
		seal(t, s, "alice", 2, []float32{0, 1, 0, 0}),
	}))

	got, err := c.ForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, got[0].Vector)

	_, err = c.ForOwner(ctx, "alice")
	require.NoError(t, err)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.OwnerEntries)
	assert.Equal(t, 1, store.OwnerCalls)
}

func TestForOwner_LRUBound(t *testing.T) {
	c, _, _ := newTestCache(t, 2)
	ctx := context.Background()

	for _, owner := range []string{"a", "b", "c"} {
		_, err := c.ForOwner(ctx, owner)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().OwnerEntries)
}

func TestAll_LoadedOnceUntilInvalidated(t *testing.T) {
	c, store, s := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, store.InsertTemplates(ctx, []database.EnrollmentTemplate{
		seal(t, s, "alice", 1, []float32{1, 0, 0, 0}),
	}))

	for i := 0; i < 3; i++ {
		got, err := c.All(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
	assert.Equal(t, 1, store.AllTemplatesCalls)

	c.InvalidateAll()
	_, err := c.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.AllTemplatesCalls)
}

func TestInsert_InvalidatesOwnerAndSweep(t *testing.T) {
	c, _, s := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, []database.EnrollmentTemplate{seal(t, s, "alice", 1, []float32{1, 0, 0, 0})}))

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	owner, err := c.ForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, owner, 1)

	require.NoError(t, c.Insert(ctx, []database.EnrollmentTemplate{seal(t, s, "alice", 2, []float32{0, 1, 0, 0})}))

	all, err = c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	owner, err = c.ForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, owner, 2)
}

func TestInsert_ErrorStillInvalidates(t *testing.T) {
	c, store, s := newTestCache(t, 0)
	ctx := context.Background()

	_, err := c.All(ctx)
	require.NoError(t, err)

	store.InsertTemplatesError = errors.New("disk gone")
	err = c.Insert(ctx, []database.EnrollmentTemplate{seal(t, s, "alice", 1, []float32{1, 0, 0, 0})})
	require.Error(t, err)

	_, err = c.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.AllTemplatesCalls)
}

func TestDeleteOwner(t *testing.T) {
	c, _, s := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, []database.EnrollmentTemplate{
		seal(t, s, "alice", 1, []float32{1, 0, 0, 0}),
		seal(t, s, "bob", 1, []float32{0, 1, 0, 0}),
	}))
	_, err := c.All(ctx)
	require.NoError(t, err)

	n, err := c.DeleteOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].OwnerID)

	alice, err := c.ForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice)
}

func TestReplaceOwner(t *testing.T) {
	c, _, s := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, c.Insert(ctx, []database.EnrollmentTemplate{seal(t, s, "alice", 1, []float32{1, 0, 0, 0})}))

	removed, err := c.ReplaceOwner(ctx, "alice", []database.EnrollmentTemplate{
		seal(t, s, "alice", 1, []float32{0, 0, 1, 0}),
		seal(t, s, "alice", 2, []float32{0, 0, 0, 1}),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	got, err := c.ForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{0, 0, 1, 0}, got[0].Vector)
}

func TestCorruptTemplatesSkipped(t *testing.T) {
	c, store, s := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, store.InsertTemplates(ctx, []database.EnrollmentTemplate{
		seal(t, s, "alice", 1, []float32{1, 0, 0, 0}),
		seal(t, s, "alice", 2, []float32{0, 1, 0, 0}),
		seal(t, s, "bob", 1, []float32{1, 1}), // wrong dimension
	}))
	store.SetTemplateCiphertext("alice", 2, []byte("tampered"))

	all, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice", all[0].OwnerID)
	assert.Equal(t, []float32{1, 0, 0, 0}, all[0].Vector)
}

func TestAll_StoreError(t *testing.T) {
	c, store, _ := newTestCache(t, 0)
	store.AllTemplatesError = errors.New("boom")

	_, err := c.All(context.Background())
	require.Error(t, err)

	// A failed load is not cached.
	store.AllTemplatesError = nil
	_, err = c.All(context.Background())
	require.NoError(t, err)
}

type countingObserver struct {
	mu           sync.Mutex
	hits, misses map[string]int
}

func (o *countingObserver) CacheHit(view string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits[view]++
}

func (o *countingObserver) CacheMiss(view string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misses[view]++
}

func TestObserver(t *testing.T) {
	sealer, err := biocrypt.NewSealer(biocrypt.DeriveKey("pass", []byte("0123456789abcdef")))
	require.NoError(t, err)
	obs := &countingObserver{hits: map[string]int{}, misses: map[string]int{}}
	c, err := New(mock.NewStore(), sealer, testDim, 0, nil, WithObserver(obs))
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = c.All(ctx)
	_, _ = c.All(ctx)
	_, _ = c.ForOwner(ctx, "x")

	assert.Equal(t, 1, obs.hits["all"])
	assert.Equal(t, 1, obs.misses["all"])
	assert.Equal(t, 1, obs.misses["owner"])
}

func TestConcurrentReadersAndInvalidation(t *testing.T) {
	c, store, s := newTestCache(t, 0)
	ctx := context.Background()
	require.NoError(t, store.InsertTemplates(ctx, []database.EnrollmentTemplate{
		seal(t, s, "alice", 1, []float32{1, 0, 0, 0}),
		seal(t, s, "bob", 1, []float32{0, 1, 0, 0}),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				all, err := c.All(ctx)
				assert.NoError(t, err)
				// A published view is always whole.
				assert.Len(t, all, 2)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.InvalidateAll()
			}
		}()
	}
	wg.Wait()
}
