package csvimport

import (
	"strings"

	"github.com/dvloznov/finance-importer/internal/format"
)

// DefaultSampleSize is the number of rows shown to the mapping oracle.
const DefaultSampleSize = 15

var dateHeaderHints = []string{"date", "datum", "fecha", "data", "valuta", "booking", "buchung"}

// GuessDateColumn returns the index of the column that most likely holds
// transaction dates, or -1. Header names are checked first, then the share
// of values that parse as dates.
func GuessDateColumn(t *Table) int {
	for i, h := range t.Header {
		lower := strings.ToLower(h)
		for _, hint := range dateHeaderHints {
			if strings.Contains(lower, hint) {
				return i
			}
		}
	}

	limit := len(t.Rows)
	if limit > 50 {
		limit = 50
	}
	best, bestHits := -1, 0
	for col := range t.Header {
		hits := 0
		for _, row := range t.Rows[:limit] {
			if _, err := format.ParseDate(row.Field(col), ""); err == nil {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = col, hits
		}
	}
	return best
}

// SampleRows selects up to n rows, dated rows first and then rows without a
// date. A third of the sample is kept for undated rows when the file has
// any, so grouped layouts with detail lines stay visible.
func SampleRows(t *Table, dateCol, n int) []Row {
	if n <= 0 {
		n = DefaultSampleSize
	}

	var dated, undated []Row
	for _, row := range t.Rows {
		if dateCol >= 0 && row.Field(dateCol) != "" {
			dated = append(dated, row)
		} else {
			undated = append(undated, row)
		}
	}

	undatedQuota := min(len(undated), n/3)
	takeDated := min(len(dated), n-undatedQuota)
	takeUndated := min(len(undated), n-takeDated)

	sample := make([]Row, 0, takeDated+takeUndated)
	sample = append(sample, dated[:takeDated]...)
	sample = append(sample, undated[:takeUndated]...)
	return sample
}
