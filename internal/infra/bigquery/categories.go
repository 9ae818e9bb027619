package bigquery

import (
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
)

type CategoryRow struct {
	CategoryID string    `bigquery:"category_id"` // REQUIRED
	Name       string    `bigquery:"name"`        // REQUIRED
	Direction  string    `bigquery:"direction"`   // REQUIRED: income | expense
	Embedding  []float64 `bigquery:"embedding"`   // REPEATED FLOAT64
	CreatedTS  time.Time `bigquery:"created_ts"`  // REQUIRED
}

func (r CategoryRow) toDomain() domain.Category {
	return domain.Category{
		ID:        r.CategoryID,
		Name:      r.Name,
		Direction: domain.Direction(r.Direction),
		Embedding: toFloat32(r.Embedding),
		CreatedAt: r.CreatedTS,
	}
}

type PatternRow struct {
	PatternID  string    `bigquery:"pattern_id"`  // REQUIRED
	CategoryID string    `bigquery:"category_id"` // REQUIRED
	Pattern    string    `bigquery:"pattern"`     // REQUIRED
	Source     string    `bigquery:"source"`      // REQUIRED: human | machine
	MatchCount int64     `bigquery:"match_count"` // REQUIRED
	Confidence float64   `bigquery:"confidence"`  // REQUIRED
	CreatedTS  time.Time `bigquery:"created_ts"`  // REQUIRED
}

func (r PatternRow) toDomain() domain.Pattern {
	return domain.Pattern{
		ID:         r.PatternID,
		CategoryID: r.CategoryID,
		Text:       r.Pattern,
		Source:     domain.PatternSource(r.Source),
		MatchCount: r.MatchCount,
		Confidence: r.Confidence,
		CreatedAt:  r.CreatedTS,
	}
}

func toFloat32(v []float64) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
