//go:build integration

package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := Open(ctx, Config{URL: dbURL, MaxOpenConns: 5, MaxIdleConns: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	// Second run must be a no-op.
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("Re-running migrations failed: %v", err)
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0001_init.sql" {
		t.Errorf("Expected [0001_init.sql], got %v", applied)
	}
}

func TestStore(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	t.Run("Config", func(t *testing.T) {
		if err := pool.SetConfig(ctx, "k", "v1"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}
		if err := pool.SetConfig(ctx, "k", "v2"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}
		v, ok, err := pool.GetConfig(ctx, "k")
		if err != nil || !ok || v != "v2" {
			t.Errorf("GetConfig = (%q, %v, %v), want (v2, true, nil)", v, ok, err)
		}
	})

	t.Run("Templates", func(t *testing.T) {
		err := pool.InsertTemplates(ctx, []database.EnrollmentTemplate{
			{OwnerID: "alice", EncryptedVector: []byte{1, 2}, SampleIndex: 2, QualityScore: 80},
			{OwnerID: "alice", EncryptedVector: []byte{3, 4}, SampleIndex: 1, QualityScore: 90},
		})
		if err != nil {
			t.Fatalf("InsertTemplates failed: %v", err)
		}

		got, err := pool.TemplatesForOwner(ctx, "alice")
		if err != nil {
			t.Fatalf("TemplatesForOwner failed: %v", err)
		}
		if len(got) != 2 || got[0].SampleIndex != 1 {
			t.Fatalf("unexpected templates: %+v", got)
		}

		n, err := pool.DeleteTemplatesForOwner(ctx, "alice")
		if err != nil || n != 2 {
			t.Errorf("DeleteTemplatesForOwner = (%d, %v), want (2, nil)", n, err)
		}
	})

	t.Run("Events", func(t *testing.T) {
		for _, e := range []database.AttendanceEvent{
			{ID: "e1", OwnerID: "bob", Kind: database.CheckIn, Timestamp: base, Confidence: 0.9, DeviceID: "d1", PairID: "p1"},
			{ID: "e2", OwnerID: "bob", Kind: database.CheckOut, Timestamp: base.Add(8 * time.Hour), Confidence: 0.9, DeviceID: "d1", PairID: "p1"},
			{ID: "e3", OwnerID: "bob", Kind: database.CheckIn, Timestamp: base.Add(24 * time.Hour), Confidence: 0.9, DeviceID: "d1", PairID: "p2"},
		} {
			if err := pool.InsertEvent(ctx, e); err != nil {
				t.Fatalf("InsertEvent failed: %v", err)
			}
		}

		open, err := pool.OpenCheckIn(ctx, "bob", base.Add(-time.Hour))
		if err != nil || open == nil || open.ID != "e3" {
			t.Errorf("OpenCheckIn = (%+v, %v), want e3", open, err)
		}

		n, err := pool.MarkEventsSynced(ctx, []string{"e1", "e2"})
		if err != nil || n != 2 {
			t.Errorf("MarkEventsSynced = (%d, %v), want (2, nil)", n, err)
		}

		between, err := pool.EventsBetween(ctx, base, base.Add(8*time.Hour))
		if err != nil || len(between) != 1 || !between[0].Synced {
			t.Errorf("EventsBetween = (%+v, %v)", between, err)
		}
	})

	t.Run("Audits", func(t *testing.T) {
		prev := base
		for _, r := range []database.AuditRecord{
			{ID: "a1", OwnerID: "bob", Timestamp: base, Kind: database.CheckIn, ImageHash: "h", DeviceID: "d1", AttemptNumber: 1, ErrorMessage: "no match"},
			{ID: "a2", OwnerID: "bob", Timestamp: base.Add(time.Minute), Kind: database.CheckIn, ImageHash: "h", DeviceID: "d1", AttemptNumber: 2, PreviousAttemptAt: &prev, Success: true},
		} {
			if err := pool.InsertAudit(ctx, r); err != nil {
				t.Fatalf("InsertAudit failed: %v", err)
			}
		}

		stats, err := pool.AttemptStatsSince(ctx, "bob", database.CheckIn, base.Add(-time.Hour))
		if err != nil || stats.Count != 2 || stats.LastAt == nil {
			t.Fatalf("AttemptStatsSince = (%+v, %v)", stats, err)
		}

		recent, err := pool.RecentAudits(ctx, 0)
		if err != nil || len(recent) != 2 || recent[0].ID != "a2" {
			t.Errorf("RecentAudits = (%+v, %v)", recent, err)
		}
	})
}
