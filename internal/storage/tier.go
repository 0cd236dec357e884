package storage

import "fmt"

// Tier classifies free internal space.
type Tier int

const (
	Normal Tier = iota
	Warning
	Critical
	AutoCleanupTriggered
)

func (t Tier) String() string {
	switch t {
	case Normal:
		return "normal"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case AutoCleanupTriggered:
		return "auto_cleanup_triggered"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText renders the tier name in JSON payloads.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

const mb = 1 << 20

// Watermarks are free-space thresholds in bytes, High > Low > Floor.
type Watermarks struct {
	High  int64
	Low   int64
	Floor int64
}

// DefaultWatermarks are 100MB, 50MB and 10MB.
var DefaultWatermarks = Watermarks{High: 100 * mb, Low: 50 * mb, Floor: 10 * mb}

// Validate checks the ordering of the thresholds.
func (w Watermarks) Validate() error {
	if w.Floor <= 0 || w.Low <= w.Floor || w.High <= w.Low {
		return fmt.Errorf("watermarks must satisfy high > low > floor > 0, got %d/%d/%d", w.High, w.Low, w.Floor)
	}
	return nil
}

// Classify maps available bytes to a tier.
func (w Watermarks) Classify(available int64) Tier {
	switch {
	case available > w.High:
		return Normal
	case available >= w.Low:
		return Warning
	case available >= w.Floor:
		return Critical
	default:
		return AutoCleanupTriggered
	}
}

// Health is a point-in-time view of storage capacity.
type Health struct {
	AvailableInternalBytes int64  `json:"availableBytesInternal"`
	AvailableExternalBytes *int64 `json:"availableBytesExternal,omitempty"`
	Tier                   Tier   `json:"tier"`
}
