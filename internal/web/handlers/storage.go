package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/facegate/internal/cache"
	"github.com/kozaktomas/facegate/internal/storage"
)

// HealthReporter measures storage capacity without side effects.
type HealthReporter interface {
	Health(ctx context.Context) (storage.Health, error)
}

// CacheStatter exposes embedding cache counters.
type CacheStatter interface {
	CacheStats() cache.Stats
}

// StatusHandler handles storage and cache status endpoints
type StatusHandler struct {
	storage HealthReporter
	cache   CacheStatter
	logger  *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(s HealthReporter, c CacheStatter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{storage: s, cache: c, logger: logger}
}

// StorageResponse is the body of GET /storage.
type StorageResponse struct {
	storage.Health
	AvailableInternalMB int64 `json:"availableInternalMB"`
}

// Storage handles GET /api/v1/storage
func (h *StatusHandler) Storage(w http.ResponseWriter, r *http.Request) {
	health, err := h.storage.Health(r.Context())
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, StorageResponse{
		Health:              health,
		AvailableInternalMB: health.AvailableInternalBytes >> 20,
	})
}

// Cache handles GET /api/v1/cache
func (h *StatusHandler) Cache(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.cache.CacheStats())
}
