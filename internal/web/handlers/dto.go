package handlers

import (
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// EventResponse is the wire form of an attendance event.
type EventResponse struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	Kind             string    `json:"kind"`
	Timestamp        time.Time `json:"timestamp"`
	Confidence       float64   `json:"confidence"`
	DeviceID         string    `json:"deviceId"`
	IsLate           bool      `json:"isLate"`
	IsEarlyDeparture bool      `json:"isEarlyDeparture"`
	PairID           string    `json:"pairId,omitempty"`
	Synced           bool      `json:"synced"`
}

// AuditResponse is the wire form of an audit record.
type AuditResponse struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"ownerId"`
	Timestamp         time.Time  `json:"timestamp"`
	Kind              string     `json:"kind"`
	Confidence        float64    `json:"confidence"`
	ImageHash         string     `json:"imageHash"`
	DeviceID          string     `json:"deviceId"`
	AttemptNumber     int        `json:"attemptNumber"`
	PreviousAttemptAt *time.Time `json:"previousAttemptTimestamp,omitempty"`
	Success           bool       `json:"success"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
}

func toEventResponse(e database.AttendanceEvent) EventResponse {
	return EventResponse{
		ID:               e.ID,
		OwnerID:          e.OwnerID,
		Kind:             string(e.Kind),
		Timestamp:        e.Timestamp,
		Confidence:       e.Confidence,
		DeviceID:         e.DeviceID,
		IsLate:           e.IsLate,
		IsEarlyDeparture: e.IsEarlyDeparture,
		PairID:           e.PairID,
		Synced:           e.Synced,
	}
}

func toAuditResponse(a database.AuditRecord) AuditResponse {
	return AuditResponse{
		ID:                a.ID,
		OwnerID:           a.OwnerID,
		Timestamp:         a.Timestamp,
		Kind:              string(a.Kind),
		Confidence:        a.Confidence,
		ImageHash:         a.ImageHash,
		DeviceID:          a.DeviceID,
		AttemptNumber:     a.AttemptNumber,
		PreviousAttemptAt: a.PreviousAttemptAt,
		Success:           a.Success,
		ErrorMessage:      a.ErrorMessage,
	}
}
