package database

import (
	"context"
	"log/slog"
	"testing"
)

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), "does-not-exist", "", slog.Default())
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRegisterBackend_Dispatch(t *testing.T) {
	var gotDSN string
	RegisterBackend("test-dispatch", func(ctx context.Context, dsn string, logger *slog.Logger) (Store, error) {
		gotDSN = dsn
		return nil, nil
	})

	if _, err := Open(context.Background(), "test-dispatch", "memory://x", nil); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if gotDSN != "memory://x" {
		t.Errorf("dsn = %q, want %q", gotDSN, "memory://x")
	}

	found := false
	for _, name := range Backends() {
		if name == "test-dispatch" {
			found = true
		}
	}
	if !found {
		t.Errorf("Backends() = %v, missing test-dispatch", Backends())
	}
}

func TestRegisterBackend_DuplicatePanics(t *testing.T) {
	RegisterBackend("test-dup", func(context.Context, string, *slog.Logger) (Store, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	RegisterBackend("test-dup", func(context.Context, string, *slog.Logger) (Store, error) { return nil, nil })
}

func TestParseEventKind(t *testing.T) {
	tests := []struct {
		in      string
		want    EventKind
		wantErr bool
	}{
		{"check_in", CheckIn, false},
		{"in", CheckIn, false},
		{"check_out", CheckOut, false},
		{"out", CheckOut, false},
		{"lunch", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEventKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEventKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseEventKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
