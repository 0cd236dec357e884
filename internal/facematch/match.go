package facematch

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/facegate/internal/failure"
)

// ErrDegenerateTemplate is returned when averaged samples cancel out to the
// zero vector, which has no direction to normalize.
var ErrDegenerateTemplate = errors.New("averaged embedding has zero norm")

// ErrInvalidThreshold is returned by MatchFace for a threshold outside [0, 1].
var ErrInvalidThreshold = errors.New("match threshold must be in [0, 1]")

// MatchFace finds the candidate most similar to query.
//
// Candidates are scanned in order and the best is only replaced on a strictly
// greater similarity, so among exact ties the first candidate wins. The best
// candidate is a Match when its similarity is >= threshold.
func MatchFace(query []float32, candidates []Candidate, threshold float64) (Decision, error) {
	if !(threshold >= 0 && threshold <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if len(candidates) == 0 {
		return NoMatch{}, nil
	}

	bestIdx := -1
	var best float64
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, err
		}
		if bestIdx < 0 || sim > best {
			bestIdx = i
			best = sim
		}
	}

	if best >= threshold {
		return Match{OwnerID: candidates[bestIdx].OwnerID, Confidence: best}, nil
	}
	return NoMatch{}, nil
}

// AverageEmbeddings builds an enrollment template from K raw samples: the
// element-wise mean, scaled to unit L2 norm. Returns nil for no samples.
func AverageEmbeddings(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, nil
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, failure.DimensionMismatch(len(v), dim)
		}
		for i, f := range v {
			sum[i] += float64(f)
		}
	}

	var norm float64
	for i := range sum {
		sum[i] /= float64(len(vectors))
		norm += sum[i] * sum[i]
	}
	if norm == 0 {
		return nil, ErrDegenerateTemplate
	}
	norm = math.Sqrt(norm)

	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / norm)
	}
	return out, nil
}

// Centroids averages each owner's candidates into one unit-norm template,
// preserving the order in which owners first appear.
func Centroids(candidates []Candidate) ([]Candidate, error) {
	var order []string
	grouped := make(map[string][][]float32)
	for _, c := range candidates {
		if _, ok := grouped[c.OwnerID]; !ok {
			order = append(order, c.OwnerID)
		}
		grouped[c.OwnerID] = append(grouped[c.OwnerID], c.Vector)
	}

	out := make([]Candidate, 0, len(order))
	for _, owner := range order {
		avg, err := AverageEmbeddings(grouped[owner])
		if errors.Is(err, ErrDegenerateTemplate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{OwnerID: owner, Vector: avg})
	}
	return out, nil
}
