package attendance

import "github.com/kozaktomas/facegate/internal/database"

// Reason explains why an enrollment or attendance attempt was refused.
type Reason string

const (
	ReasonNoMatch           Reason = "no_match"
	ReasonDuplicateWindow   Reason = "duplicate_window"
	ReasonOwnerMismatch     Reason = "owner_mismatch"
	ReasonSampleCount       Reason = "sample_count"
	ReasonLowQuality        Reason = "low_quality"
	ReasonDegenerate        Reason = "degenerate_template"
	ReasonDuplicateIdentity Reason = "duplicate_identity"
)

// EnrollmentOutcome is Enrolled or EnrollmentRejected.
type EnrollmentOutcome interface {
	isEnrollmentOutcome()
}

// Enrolled means the owner's templates were stored.
type Enrolled struct {
	OwnerID  string
	Samples  int
	Replaced bool   // the owner had templates before
	Alert    string // storage advisory, if any
}

// EnrollmentRejected means nothing was stored.
type EnrollmentRejected struct {
	OwnerID string
	Reason  Reason
	Message string
	// Set for ReasonDuplicateIdentity.
	ConflictOwnerID string
	Similarity      float64
}

func (Enrolled) isEnrollmentOutcome()           {}
func (EnrollmentRejected) isEnrollmentOutcome() {}

// AttendanceOutcome is Admitted, Rejected or Failed. Every variant carries
// the audit record written for the attempt.
type AttendanceOutcome interface {
	isAttendanceOutcome()
	AuditRecord() database.AuditRecord
}

// Admitted means an attendance event was persisted.
type Admitted struct {
	Event  database.AttendanceEvent
	Audit  database.AuditRecord
	Strong bool   // confidence cleared the strong-match bar
	Alert  string // storage advisory, if any
}

// Rejected is a valid business outcome: no match, a duplicate inside the
// window, or a claimed identity that did not match.
type Rejected struct {
	Reason  Reason
	Message string
	OwnerID string // matched owner, empty for ReasonNoMatch
	Audit   database.AuditRecord
}

// Failed means the attempt could not be completed. Err carries a
// failure.Error kind where one applies.
type Failed struct {
	Err   error
	Audit database.AuditRecord
}

func (Admitted) isAttendanceOutcome() {}
func (Rejected) isAttendanceOutcome() {}
func (Failed) isAttendanceOutcome()   {}

func (o Admitted) AuditRecord() database.AuditRecord { return o.Audit }
func (o Rejected) AuditRecord() database.AuditRecord { return o.Audit }
func (o Failed) AuditRecord() database.AuditRecord   { return o.Audit }

// OutcomeLabel names an attendance outcome for logs and metrics.
func OutcomeLabel(o AttendanceOutcome) string {
	switch o := o.(type) {
	case Admitted:
		return "admitted"
	case Rejected:
		return string(o.Reason)
	case Failed:
		return "failed"
	}
	return "unknown"
}
