package facematch

import (
	"errors"
	"math"
	"testing"

	"github.com/kozaktomas/facegate/internal/failure"
)

const epsilon = 1e-3

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= epsilon
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3, 4, 5}, []float32{1, 2, 3, 4, 5}, 1},
		{"orthogonal", []float32{1, 0, 0, 0, 0}, []float32{0, 1, 0, 0, 0}, 0},
		{"opposite", []float32{1, 2, 3}, []float32{-1, -2, -3}, -1},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 2, 3}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CosineSimilarity(tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tc.want) {
				t.Errorf("CosineSimilarity = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestCosineSimilarity_Symmetric(t *testing.T) {
	pairs := [][2][]float32{
		{{0.3, -1.2, 4.5}, {2.2, 0.1, -0.7}},
		{{1, 1, 1, 1}, {-3, 0.5, 2, 8}},
		{{0.001, 0.002}, {1000, -2000}},
	}

	for _, p := range pairs {
		ab, err := CosineSimilarity(p[0], p[1])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ba, err := CosineSimilarity(p[1], p[0])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ab != ba {
			t.Errorf("CosineSimilarity not symmetric: %f vs %f", ab, ba)
		}
		if ab < -1 || ab > 1 {
			t.Errorf("CosineSimilarity out of range: %f", ab)
		}
	}
}

func TestEuclideanDistance(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	same, err := EuclideanDistance(a, a)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if same != 0 {
		t.Errorf("EuclideanDistance(v, v) = %f, want 0", same)
	}

	ab, _ := EuclideanDistance(a, b)
	ba, _ := EuclideanDistance(b, a)
	if !almostEqual(ab, 5) {
		t.Errorf("EuclideanDistance = %f, want 5", ab)
	}
	if ab != ba {
		t.Errorf("EuclideanDistance not symmetric: %f vs %f", ab, ba)
	}
	if ab < 0 {
		t.Errorf("EuclideanDistance negative: %f", ab)
	}
}

func TestDimensionMismatch(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2}

	if _, err := CosineSimilarity(a, b); !errors.Is(err, failure.ErrDimensionMismatch) {
		t.Errorf("CosineSimilarity error = %v, want DimensionMismatch", err)
	}
	if _, err := EuclideanDistance(a, b); !errors.Is(err, failure.ErrDimensionMismatch) {
		t.Errorf("EuclideanDistance error = %v, want DimensionMismatch", err)
	}
}
