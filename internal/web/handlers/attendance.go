package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/facegate/internal/attendance"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/failure"
	"github.com/kozaktomas/facegate/internal/worker"
)

// Attender is the part of attendance.Service the HTTP API drives. Matching and
// enrollment go through the service's worker pool so HTTP load shares the same
// concurrency bound as every other caller.
type Attender interface {
	AttendAsync(ctx context.Context, req attendance.AttendRequest) *worker.Future[attendance.AttendanceOutcome]
	EnrollAsync(ctx context.Context, ownerID string, samples []attendance.Sample) *worker.Future[attendance.EnrollmentOutcome]
	RemoveOwner(ctx context.Context, ownerID string) (int64, error)
	LastEvent(ctx context.Context, ownerID string) (*database.AttendanceEvent, error)
}

// AttendanceHandler handles enrollment and attendance endpoints
type AttendanceHandler struct {
	svc    Attender
	logger *slog.Logger
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc Attender, logger *slog.Logger) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, logger: logger}
}

// AttendRequest is the body of POST /attendance.
// Image is base64 in JSON; either it or ImageHash must be set.
type AttendRequest struct {
	Embedding      []float32  `json:"embedding"`
	Image          []byte     `json:"image,omitempty"`
	ImageHash      string     `json:"imageHash,omitempty"`
	Kind           string     `json:"kind"`
	DeviceID       string     `json:"deviceId"`
	ClaimedOwnerID string     `json:"claimedOwnerId,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// AttendResponse reports the outcome of one attempt.
type AttendResponse struct {
	Outcome string           `json:"outcome"`
	Reason  string           `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
	Strong  bool             `json:"strong,omitempty"`
	Alert   string           `json:"alert,omitempty"`
	Event   *EventResponse   `json:"event,omitempty"`
	Audit   AuditResponse    `json:"audit"`
	Failure *failure.Payload `json:"failure,omitempty"`
}

// Attend handles POST /api/v1/attendance
func (h *AttendanceHandler) Attend(w http.ResponseWriter, r *http.Request) {
	var body AttendRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	kind, err := database.ParseEventKind(body.Kind)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := attendance.AttendRequest{
		Embedding:      body.Embedding,
		Image:          body.Image,
		ImageHash:      body.ImageHash,
		Kind:           kind,
		DeviceID:       body.DeviceID,
		ClaimedOwnerID: body.ClaimedOwnerID,
	}
	if body.Timestamp != nil {
		req.At = *body.Timestamp
	}

	out, err := h.svc.AttendAsync(r.Context(), req).Wait(r.Context())
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}

	resp := AttendResponse{Outcome: attendance.OutcomeLabel(out), Audit: toAuditResponse(out.AuditRecord())}
	status := http.StatusOK
	switch o := out.(type) {
	case attendance.Admitted:
		ev := toEventResponse(o.Event)
		resp.Event = &ev
		resp.Strong = o.Strong
		resp.Alert = o.Alert
		status = http.StatusCreated
	case attendance.Rejected:
		resp.Outcome = "rejected"
		resp.Reason = string(o.Reason)
		resp.Message = o.Message
	case attendance.Failed:
		resp.Message = o.Err.Error()
		status = http.StatusInternalServerError
		if fe, ok := failure.As(o.Err); ok {
			p := fe.Payload()
			resp.Failure = &p
			status = failureStatus(fe.Kind)
		}
	}
	respondJSON(w, status, resp)
}

// EnrollRequest is the body of POST /enrollments.
type EnrollRequest struct {
	OwnerID string `json:"ownerId"`
	Samples []struct {
		Vector  []float32 `json:"vector"`
		Quality float64   `json:"quality"`
	} `json:"samples"`
}

// EnrollResponse reports the outcome of an enrollment.
type EnrollResponse struct {
	Outcome         string  `json:"outcome"`
	OwnerID         string  `json:"ownerId"`
	Samples         int     `json:"samples,omitempty"`
	Replaced        bool    `json:"replaced,omitempty"`
	Alert           string  `json:"alert,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Message         string  `json:"message,omitempty"`
	ConflictOwnerID string  `json:"conflictOwnerId,omitempty"`
	Similarity      float64 `json:"similarity,omitempty"`
}

// Enroll handles POST /api/v1/enrollments
func (h *AttendanceHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var body EnrollRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	samples := make([]attendance.Sample, len(body.Samples))
	for i, s := range body.Samples {
		samples[i] = attendance.Sample{Vector: s.Vector, Quality: s.Quality}
	}

	out, err := h.svc.EnrollAsync(r.Context(), body.OwnerID, samples).Wait(r.Context())
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}

	switch o := out.(type) {
	case attendance.Enrolled:
		respondJSON(w, http.StatusCreated, EnrollResponse{
			Outcome:  "enrolled",
			OwnerID:  o.OwnerID,
			Samples:  o.Samples,
			Replaced: o.Replaced,
			Alert:    o.Alert,
		})
	case attendance.EnrollmentRejected:
		status := http.StatusUnprocessableEntity
		if o.Reason == attendance.ReasonDuplicateIdentity {
			status = http.StatusConflict
		}
		respondJSON(w, status, EnrollResponse{
			Outcome:         "rejected",
			OwnerID:         o.OwnerID,
			Reason:          string(o.Reason),
			Message:         o.Message,
			ConflictOwnerID: o.ConflictOwnerID,
			Similarity:      o.Similarity,
		})
	}
}

// RemoveOwner handles DELETE /api/v1/enrollments/{ownerID}
func (h *AttendanceHandler) RemoveOwner(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "ownerID")
	n, err := h.svc.RemoveOwner(r.Context(), owner)
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	if n == 0 {
		respondError(w, http.StatusNotFound, "owner not enrolled")
		return
	}
	h.logger.Info("owner removed via api", "owner_id", sanitizeForLog(owner))
	respondJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

// LastEvent handles GET /api/v1/owners/{ownerID}/last-event
func (h *AttendanceHandler) LastEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.LastEvent(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		respondFailure(w, h.logger, err)
		return
	}
	if ev == nil {
		respondError(w, http.StatusNotFound, "no events for owner")
		return
	}
	respondJSON(w, http.StatusOK, toEventResponse(*ev))
}
