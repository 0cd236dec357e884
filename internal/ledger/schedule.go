package ledger

import "time"

// Schedule is the working day used to flag late arrivals and early
// departures. Offsets are measured from local midnight in Location.
// A zero WorkEnd disables both flags.
type Schedule struct {
	WorkStart time.Duration
	WorkEnd   time.Duration
	Grace     time.Duration
	Location  *time.Location
}

// Enabled reports whether the schedule has a working day configured.
func (s Schedule) Enabled() bool {
	return s.WorkEnd > s.WorkStart
}

// IsLate reports whether a check-in at t is after start plus grace.
func (s Schedule) IsLate(t time.Time) bool {
	if !s.Enabled() {
		return false
	}
	return s.offset(t) > s.WorkStart+s.Grace
}

// IsEarlyDeparture reports whether a check-out at t is before the end of the day.
func (s Schedule) IsEarlyDeparture(t time.Time) bool {
	if !s.Enabled() {
		return false
	}
	return s.offset(t) < s.WorkEnd
}

func (s Schedule) offset(t time.Time) time.Duration {
	loc := s.Location
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return lt.Sub(midnight)
}
