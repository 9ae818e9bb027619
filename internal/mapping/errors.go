package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// AnalysisError reports a mapping that names a column absent from the
// header, or an answer that could not be used at all. Available lists the
// header's columns, closest to Column first.
type AnalysisError struct {
	Field     string
	Column    string
	Available []string
	Reason    string
}

func (e *AnalysisError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("mapping analysis: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("mapping analysis: %s column %q not found; available columns: %s",
		e.Field, e.Column, strings.Join(e.Available, ", "))
}

func missingColumn(field, column string, header []string) *AnalysisError {
	return &AnalysisError{
		Field:     field,
		Column:    column,
		Available: closestFirst(column, header),
	}
}

// closestFirst orders header by edit distance to name, ties kept in header
// order.
func closestFirst(name string, header []string) []string {
	target := []rune(strings.ToLower(name))
	type scored struct {
		col  string
		dist int
	}
	ranked := make([]scored, len(header))
	for i, h := range header {
		ranked[i] = scored{h, levenshtein.DistanceForStrings(target, []rune(strings.ToLower(h)), levenshtein.DefaultOptions)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.col
	}
	return out
}
