package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facegate.db")
	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"0001_init.sql", 1, false},
		{"0012_add_index.sql", 12, false},
		{"0000_empty.sql", 0, false},
		{"init.sql", 0, true},
		{"abc_init.sql", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVersion(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVersion(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseVersion(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	versions, err := s.MigrationsApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
}

func TestConfig_Upsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetConfig(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConfig(ctx, "k", "v1"))
	require.NoError(t, s.SetConfig(ctx, "k", "v2"))

	v, ok, err := s.GetConfig(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestTemplates_InsertQueryDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000).UTC()

	err := s.InsertTemplates(ctx, []database.EnrollmentTemplate{
		{OwnerID: "bob", EncryptedVector: []byte{1}, SampleIndex: 2, QualityScore: 80, CreatedAt: now},
		{OwnerID: "bob", EncryptedVector: []byte{2}, SampleIndex: 1, QualityScore: 90, CreatedAt: now},
		{OwnerID: "alice", EncryptedVector: []byte{3}, SampleIndex: 1, QualityScore: 70, CreatedAt: now},
	})
	require.NoError(t, err)

	bob, err := s.TemplatesForOwner(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 2)
	assert.Equal(t, 1, bob[0].SampleIndex)
	assert.Equal(t, []byte{2}, bob[0].EncryptedVector)
	assert.True(t, bob[0].CreatedAt.Equal(now))

	all, err := s.AllTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alice", all[0].OwnerID)

	n, err := s.CountTemplatesForOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := s.DeleteTemplatesForOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err = s.CountTemplatesForOwner(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTemplates_InsertIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// The second row violates the sample_index CHECK constraint.
	err := s.InsertTemplates(ctx, []database.EnrollmentTemplate{
		{OwnerID: "carol", EncryptedVector: []byte{1}, SampleIndex: 1, QualityScore: 50},
		{OwnerID: "carol", EncryptedVector: []byte{2}, SampleIndex: 0, QualityScore: 50},
	})
	require.Error(t, err)

	n, err := s.CountTemplatesForOwner(ctx, "carol")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvents_Queries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	events := []database.AttendanceEvent{
		{ID: "e1", OwnerID: "alice", Kind: database.CheckIn, Timestamp: base, Confidence: 0.9, DeviceID: "d1", PairID: "p1", IsLate: true},
		{ID: "e2", OwnerID: "alice", Kind: database.CheckOut, Timestamp: base.Add(8 * time.Hour), Confidence: 0.91, DeviceID: "d1", PairID: "p1"},
		{ID: "e3", OwnerID: "alice", Kind: database.CheckIn, Timestamp: base.Add(24 * time.Hour), Confidence: 0.88, DeviceID: "d1", PairID: "p2"},
		{ID: "e4", OwnerID: "bob", Kind: database.CheckIn, Timestamp: base.Add(time.Hour), Confidence: 0.8, DeviceID: "d2", PairID: "p3"},
	}
	for _, e := range events {
		require.NoError(t, s.InsertEvent(ctx, e))
	}

	between, err := s.EventsBetween(ctx, base, base.Add(8*time.Hour))
	require.NoError(t, err)
	require.Len(t, between, 2, "end bound is exclusive")
	assert.Equal(t, "e1", between[0].ID)
	assert.True(t, between[0].IsLate)
	assert.Equal(t, "p1", between[0].PairID)

	last, err := s.LastEventOfKindSince(ctx, "alice", database.CheckIn, base.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "e3", last.ID)

	none, err := s.LastEventOfKindSince(ctx, "alice", database.CheckIn, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, none)

	count, err := s.CountEventsOfKindBetween(ctx, "alice", database.CheckIn, base.Add(-time.Minute), base.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = s.CountEventsOfKindBetween(ctx, "alice", database.CheckIn, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count, "both bounds are exclusive")

	open, err := s.OpenCheckIn(ctx, "alice", base.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "e3", open.ID)

	n, err := s.MarkEventsSynced(ctx, []string{"e1", "e2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	n, err = s.MarkEventsSynced(ctx, []string{"e1"})
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err := s.DeleteEventsOlderThan(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestAudits_StatsAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	prev := base

	records := []database.AuditRecord{
		{ID: "a1", OwnerID: "alice", Timestamp: base, Kind: database.CheckIn, ImageHash: "h1", DeviceID: "d1", AttemptNumber: 1, ErrorMessage: "no match"},
		{ID: "a2", OwnerID: "alice", Timestamp: base.Add(time.Minute), Kind: database.CheckIn, Confidence: 0.9, ImageHash: "h2", DeviceID: "d1", AttemptNumber: 2, PreviousAttemptAt: &prev, Success: true},
		{ID: "a3", OwnerID: "", Timestamp: base.Add(2 * time.Minute), Kind: database.CheckOut, ImageHash: "h3", DeviceID: "d1", AttemptNumber: 1},
	}
	for _, r := range records {
		require.NoError(t, s.InsertAudit(ctx, r))
	}

	stats, err := s.AttemptStatsSince(ctx, "alice", database.CheckIn, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	require.NotNil(t, stats.LastAt)
	assert.True(t, stats.LastAt.Equal(base.Add(time.Minute)))

	empty, err := s.AttemptStatsSince(ctx, "alice", database.CheckOut, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, empty.Count)
	assert.Nil(t, empty.LastAt)

	failures, err := s.CountFailuresSince(ctx, "alice", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, failures)

	recent, err := s.RecentAudits(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "a3", recent[0].ID)
	assert.Equal(t, "a2", recent[1].ID)
	require.NotNil(t, recent[1].PreviousAttemptAt)
	assert.True(t, recent[1].PreviousAttemptAt.Equal(prev))

	deleted, err := s.DeleteAuditsOlderThan(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestWorker_ConcurrentWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InsertTemplates(ctx, []database.EnrollmentTemplate{
				{OwnerID: "owner", EncryptedVector: []byte{byte(i)}, SampleIndex: i + 1, QualityScore: 50},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := s.CountTemplatesForOwner(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestWorker_ClosedRejectsWrites(t *testing.T) {
	s := openTestStore(t)
	s.writer.Close()
	s.writer.Close()

	err := s.SetConfig(context.Background(), "k", "v")
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

func TestCompact_ShrinksFileAfterPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facegate.db")
	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	old := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	padding := strings.Repeat("x", 1024)
	for i := range 3000 {
		require.NoError(t, s.InsertAudit(ctx, database.AuditRecord{
			ID:            fmt.Sprintf("audit-%d", i),
			OwnerID:       "alice",
			Timestamp:     old.Add(time.Duration(i) * time.Second),
			Kind:          database.CheckIn,
			ImageHash:     "h",
			DeviceID:      "gate-1",
			AttemptNumber: 1,
			ErrorMessage:  padding,
		}))
	}
	require.NoError(t, s.Compact(ctx))
	before := fileSize(t, path)

	n, err := s.DeleteAuditsOlderThan(ctx, old.Add(24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 3000, n)
	require.NoError(t, s.Compact(ctx))

	after := fileSize(t, path)
	assert.Less(t, after, before/4, "freed pages must be returned to the filesystem (before=%d after=%d)", before, after)
	assert.Zero(t, fileSize(t, path+"-wal"), "checkpoint truncates the WAL")
}

func TestOpen_ConvertsLegacyFileToIncrementalVacuum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	legacy, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = legacy.Exec("CREATE TABLE leftover (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var mode int
	require.NoError(t, s.DB().QueryRow("PRAGMA auto_vacuum").Scan(&mode))
	assert.Equal(t, autoVacuumIncremental, mode)
}
