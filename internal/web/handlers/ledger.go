package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// defaultAuditLimit applies when ?limit is absent.
const defaultAuditLimit = 100

// LedgerReader is the read side of the ledger exposed over HTTP.
type LedgerReader interface {
	RecentAudits(ctx context.Context, limit int) ([]database.AuditRecord, error)
	EventsBetween(ctx context.Context, start, end time.Time) ([]database.AttendanceEvent, error)
	MarkSynced(ctx context.Context, ids []string) (int64, error)
}

// LedgerHandler handles audit and event listing
type LedgerHandler struct {
	ledger LedgerReader
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(l LedgerReader, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger, now: time.Now}
}

// Audits handles GET /api/v1/audits?limit=N
func (h *LedgerHandler) Audits(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.ledger.RecentAudits(r.Context(), limit)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	out := make([]AuditResponse, len(records))
	for i, a := range records {
		out[i] = toAuditResponse(a)
	}
	respondJSON(w, http.StatusOK, out)
}

// Events handles GET /api/v1/events?from=RFC3339&to=RFC3339.
// The range defaults to the last 24 hours.
func (h *LedgerHandler) Events(w http.ResponseWriter, r *http.Request) {
	end := h.now()
	start := end.Add(-24 * time.Hour)

	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &start}, {"to", &end}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, p.name+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = t
	}
	if !start.Before(end) {
		respondError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	events, err := h.ledger.EventsBetween(r.Context(), start, end)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	out := make([]EventResponse, len(events))
	for i, e := range events {
		out[i] = toEventResponse(e)
	}
	respondJSON(w, http.StatusOK, out)
}

// MarkSynced handles POST /api/v1/events/sync
func (h *LedgerHandler) MarkSynced(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.IDs) == 0 {
		respondError(w, http.StatusBadRequest, "ids required")
		return
	}
	n, err := h.ledger.MarkSynced(r.Context(), body.IDs)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
