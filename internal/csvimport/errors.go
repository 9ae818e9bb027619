package csvimport

import "fmt"

// ParseError reports a file that cannot yield any transaction: structurally
// malformed, missing a mapped column, or with no parseable rows.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("csv parse error at line %d: %s", e.Line, e.Reason)
	}
	return "csv parse error: " + e.Reason
}

// RowWarning is a row that was skipped, with the reason.
type RowWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (w RowWarning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}
