package database

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Opener opens a Store from a backend-specific DSN and applies migrations.
type Opener func(ctx context.Context, dsn string, logger *slog.Logger) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// RegisterBackend makes a store implementation available under name.
// Backend packages call it from init to avoid import cycles.
func RegisterBackend(name string, open Opener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if open == nil {
		panic("database: RegisterBackend opener is nil")
	}
	if _, dup := backends[name]; dup {
		panic("database: RegisterBackend called twice for " + name)
	}
	backends[name] = open
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named backend.
func Open(ctx context.Context, backend, dsn string, logger *slog.Logger) (Store, error) {
	backendsMu.RLock()
	open, ok := backends[backend]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database backend %q (registered: %v)", backend, Backends())
	}
	return open(ctx, dsn, logger)
}
