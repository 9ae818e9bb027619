package categorize

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// VectorStore supplies the labeled vectors phase 2 searches.
type VectorStore interface {
	RecentEmbeddings(ctx context.Context, direction domain.Direction, limit int) ([]domain.LabeledVector, error)
}

// embeddingOutcome is the result of phase 2 for one candidate.
type embeddingOutcome struct {
	vector     []float32
	categoryID string
	similarity float64
	// shortlist holds distinct category IDs, most similar first, for phase 3.
	shortlist []string
	// examples are the closest prior transactions, for few-shot prompting.
	examples []Neighbor
}

func (o embeddingOutcome) matched() bool { return o.categoryID != "" }

// embeddingPhase compares a candidate's embedding with recent categorized
// transactions and with per-category vectors of the same direction.
type embeddingPhase struct {
	store      VectorStore
	categories []domain.Category
	threshold  float64
	window     int
	topK       int
	examples   int

	windows map[domain.Direction][]domain.LabeledVector
}

func (p *embeddingPhase) recent(ctx context.Context, dir domain.Direction) ([]domain.LabeledVector, error) {
	if w, ok := p.windows[dir]; ok {
		return w, nil
	}
	w, err := p.store.RecentEmbeddings(ctx, dir, p.window)
	if err != nil {
		return nil, fmt.Errorf("load recent embeddings: %w", err)
	}
	p.windows[dir] = w
	return w, nil
}

func (p *embeddingPhase) categoryVectors(dir domain.Direction) []domain.LabeledVector {
	var out []domain.LabeledVector
	for _, c := range p.categories {
		if c.Direction == dir && len(c.Embedding) > 0 {
			out = append(out, domain.LabeledVector{CategoryID: c.ID, Description: c.Name, Vector: c.Embedding})
		}
	}
	return out
}

func (p *embeddingPhase) evaluate(ctx context.Context, dir domain.Direction, vector []float32) (embeddingOutcome, error) {
	out := embeddingOutcome{vector: vector}

	window, err := p.recent(ctx, dir)
	if err != nil {
		return out, err
	}
	txNeighbors := nearest(vector, window, 0)
	catNeighbors := nearest(vector, p.categoryVectors(dir), 0)

	out.examples = txNeighbors
	if len(out.examples) > p.examples {
		out.examples = out.examples[:p.examples]
	}

	if len(txNeighbors) > 0 && txNeighbors[0].Similarity >= p.threshold {
		out.categoryID = txNeighbors[0].CategoryID
		out.similarity = txNeighbors[0].Similarity
		return out, nil
	}
	if len(catNeighbors) > 0 && catNeighbors[0].Similarity >= p.threshold {
		out.categoryID = catNeighbors[0].CategoryID
		out.similarity = catNeighbors[0].Similarity
		return out, nil
	}

	out.shortlist = shortlist(p.topK, txNeighbors, catNeighbors)
	return out, nil
}

// shortlist merges neighbor lists by similarity and keeps the first k
// distinct categories.
func shortlist(k int, lists ...[]Neighbor) []string {
	var all []Neighbor
	for _, l := range lists {
		all = append(all, l...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Similarity > all[j].Similarity })

	seen := make(map[string]bool)
	var out []string
	for _, n := range all {
		if n.CategoryID == "" || seen[n.CategoryID] {
			continue
		}
		seen[n.CategoryID] = true
		out = append(out, n.CategoryID)
		if len(out) == k {
			break
		}
	}
	return out
}
