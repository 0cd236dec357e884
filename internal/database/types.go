package database

import (
	"fmt"
	"time"
)

// EventKind distinguishes arrivals from departures.
type EventKind string

const (
	CheckIn  EventKind = "check_in"
	CheckOut EventKind = "check_out"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	return k == CheckIn || k == CheckOut
}

// ParseEventKind parses "check_in"/"check_out" (also accepts "in"/"out").
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case string(CheckIn), "in", "checkin":
		return CheckIn, nil
	case string(CheckOut), "out", "checkout":
		return CheckOut, nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// EnrollmentTemplate is one stored biometric sample of an owner.
// EncryptedVector is the sealed little-endian float32 embedding.
type EnrollmentTemplate struct {
	ID              int64
	OwnerID         string
	EncryptedVector []byte
	SampleIndex     int     // 1..K
	QualityScore    float64 // 0..100, reported by the capture pipeline
	CreatedAt       time.Time
}

// AttendanceEvent is an admitted check-in or check-out.
// Only Synced is ever updated after insert.
type AttendanceEvent struct {
	ID               string
	OwnerID          string
	Kind             EventKind
	Timestamp        time.Time
	Confidence       float64
	DeviceID         string
	IsLate           bool
	IsEarlyDeparture bool
	PairID           string // empty when unpaired
	Synced           bool
}

// AuditRecord is the append-only forensic trace of one match attempt.
type AuditRecord struct {
	ID                string
	OwnerID           string // empty when no owner could be attributed
	Timestamp         time.Time
	Kind              EventKind
	Confidence        float64
	ImageHash         string // hex SHA-256 of the captured frame
	DeviceID          string
	AttemptNumber     int
	PreviousAttemptAt *time.Time
	Success           bool
	ErrorMessage      string
}

// AttemptStats summarizes prior audit records for an (owner, kind) pair.
type AttemptStats struct {
	Count  int
	LastAt *time.Time
}
