package categorize

import (
	"math"
	"sort"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length, empty vectors and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Neighbor is a scored match against a labeled vector.
type Neighbor struct {
	CategoryID  string
	Description string
	Similarity  float64
}

// nearest scores query against every vector and returns the best k,
// most similar first. k <= 0 returns all.
func nearest(query []float32, vectors []domain.LabeledVector, k int) []Neighbor {
	out := make([]Neighbor, 0, len(vectors))
	for _, v := range vectors {
		out = append(out, Neighbor{
			CategoryID:  v.CategoryID,
			Description: v.Description,
			Similarity:  CosineSimilarity(query, v.Vector),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
