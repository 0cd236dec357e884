package facematch

import (
	"math"

	"github.com/kozaktomas/facegate/internal/failure"
)

// CosineSimilarity computes dot(a,b) / (|a|*|b|).
// Returns a value between -1 (opposite) and 1 (identical direction).
// A zero vector has no direction and yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, failure.DimensionMismatch(len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity, nil
}

// EuclideanDistance computes sqrt(sum((a_i - b_i)^2)).
func EuclideanDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, failure.DimensionMismatch(len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}
