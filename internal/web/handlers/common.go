package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/failure"
	"github.com/kozaktomas/facegate/internal/worker"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxBodyBytes bounds request bodies; an embedding plus a frame fits easily.
const maxBodyBytes = 8 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// failureStatus maps an error kind to an HTTP status.
func failureStatus(kind failure.Kind) int {
	switch kind {
	case failure.KindInsufficientStorage:
		return http.StatusInsufficientStorage
	case failure.KindDimensionMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure renders err as a failure payload when it carries a kind,
// as a 400 for invalid requests and as a bare 500 otherwise.
func respondFailure(w http.ResponseWriter, logger *slog.Logger, err error) {
	if fe, ok := failure.As(err); ok {
		respondJSON(w, failureStatus(fe.Kind), fe.Payload())
		return
	}
	if errors.Is(err, attendance.ErrInvalidRequest) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, worker.ErrPoolClosed) {
		logger.Warn("request abandoned before a worker finished it", "error", err)
		respondError(w, http.StatusServiceUnavailable, "service busy")
		return
	}
	logger.Error("request failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return false
	}
	return true
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
