// Package facematch compares live face embeddings against enrolled templates.
// Everything here is pure computation; callers supply candidates and thresholds.
package facematch

// Candidate is one decrypted template participating in a matching sweep.
type Candidate struct {
	OwnerID string
	Vector  []float32
}

// Decision is the result of MatchFace: either Match or NoMatch.
type Decision interface {
	isDecision()
}

// Match is a positive identification.
type Match struct {
	OwnerID    string
	Confidence float64 // cosine similarity of the best candidate, never below the threshold MatchFace was given
}

// NoMatch means no candidate reached the threshold.
type NoMatch struct{}

func (Match) isDecision()   {}
func (NoMatch) isDecision() {}

// Thresholds are the two acceptance bars supplied by configuration.
type Thresholds struct {
	// Default is the minimum similarity that grants attendance.
	Default float64
	// Strong is the bar above which a match is auto-accepted without
	// secondary checks. It also flags duplicate identities at enrollment.
	Strong float64
}

// IsStrong reports whether a confidence clears the strong-match bar.
func (t Thresholds) IsStrong(confidence float64) bool {
	return confidence >= t.Strong
}
