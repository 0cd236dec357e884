package facematch

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSW parameters for per-owner centroid search
const (
	// IndexMaxNeighbors (M) is the maximum number of neighbors per node.
	IndexMaxNeighbors = 16

	// IndexEfSearch is the search candidate pool size.
	IndexEfSearch = 64

	// IndexSearchMultiplier requests extra candidates from the graph so that
	// exact re-ranking still has enough after excluding an owner.
	IndexSearchMultiplier = 3
)

// Neighbor is an owner returned by OwnerIndex.Nearest with its exact
// cosine similarity to the query.
type Neighbor struct {
	OwnerID    string
	Similarity float64
}

// OwnerIndex is an approximate nearest-neighbour index over one centroid per
// owner. It screens new enrollments against the existing population.
type OwnerIndex struct {
	graph   *hnsw.Graph[string]
	vectors map[string][]float32
	mu      sync.RWMutex
}

// NewOwnerIndex builds an index from per-owner centroids.
func NewOwnerIndex(centroids []Candidate) *OwnerIndex {
	g := hnsw.NewGraph[string]()
	g.M = IndexMaxNeighbors
	g.Ml = 1.0 / float64(IndexMaxNeighbors) // Standard HNSW formula
	g.EfSearch = IndexEfSearch
	g.Distance = hnsw.CosineDistance

	ix := &OwnerIndex{
		graph:   g,
		vectors: make(map[string][]float32, len(centroids)),
	}
	for _, c := range centroids {
		if len(c.Vector) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(c.OwnerID, c.Vector))
		ix.vectors[c.OwnerID] = c.Vector
	}
	return ix
}

// Len returns the number of indexed owners.
func (ix *OwnerIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// Nearest returns up to k owners closest to query, excluding the given owner,
// ordered by descending exact similarity.
func (ix *OwnerIndex) Nearest(query []float32, k int, exclude string) ([]Neighbor, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.vectors) == 0 {
		return nil, nil
	}

	nodes := ix.graph.Search(query, k*IndexSearchMultiplier)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		if n.Key == exclude {
			continue
		}
		// Re-rank with the exact similarity rather than the graph's float32 distance.
		sim, err := CosineSimilarity(query, ix.vectors[n.Key])
		if err != nil {
			return nil, err
		}
		out = append(out, Neighbor{OwnerID: n.Key, Similarity: sim})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}
