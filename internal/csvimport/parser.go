package csvimport

import (
	"fmt"
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/format"
	"github.com/shopspring/decimal"
)

// AccountContext carries the account settings that affect row parsing.
type AccountContext struct {
	// IgnorePatterns drop rows whose description contains one of them,
	// compared case-sensitively.
	IgnorePatterns []string
	InvertSign     bool
}

// Result holds the candidates produced from a file and the rows skipped
// along the way.
type Result struct {
	Candidates []domain.Candidate
	Warnings   []RowWarning
}

// WarningStrings renders warnings for storage on an import.
func (r *Result) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.String())
	}
	return out
}

type columns struct {
	date, desc, descSecondary int
	amount, debit, credit     int
}

// Parse applies mapping m to content. Individual bad rows become warnings.
// A *ParseError is returned when a mapped column is missing from the header
// or when no row yields a candidate. Parse has no side effects.
func Parse(content []byte, m domain.ColumnMapping, acct AccountContext) (*Result, error) {
	t, err := ReadTable(content, m.DelimiterRune())
	if err != nil {
		return nil, err
	}

	cols, err := resolveColumns(t, m)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, row := range t.Rows {
		c, reason, skip := parseRow(row, cols, m, acct)
		if reason != "" {
			res.Warnings = append(res.Warnings, RowWarning{Line: row.Line, Reason: reason})
			continue
		}
		if skip {
			continue
		}
		res.Candidates = append(res.Candidates, c)
	}

	if len(res.Candidates) == 0 {
		if len(res.Warnings) > 0 {
			first := res.Warnings[0]
			return nil, &ParseError{Line: first.Line, Reason: "no parseable rows: " + first.Reason}
		}
		return nil, &ParseError{Reason: "no transaction rows found"}
	}
	return res, nil
}

func resolveColumns(t *Table, m domain.ColumnMapping) (columns, error) {
	cols := columns{descSecondary: -1, amount: -1, debit: -1, credit: -1}

	lookup := func(field, name string) (int, error) {
		i := t.Index(name)
		if i < 0 {
			return -1, &ParseError{Reason: fmt.Sprintf("%s column %q not found in header", field, name)}
		}
		return i, nil
	}

	var err error
	if cols.date, err = lookup("date", m.DateColumn); err != nil {
		return cols, err
	}
	if cols.desc, err = lookup("description", m.DescriptionColumn); err != nil {
		return cols, err
	}
	if m.DescriptionSecondaryColumn != "" {
		if cols.descSecondary, err = lookup("secondary description", m.DescriptionSecondaryColumn); err != nil {
			return cols, err
		}
	}

	switch m.AmountType {
	case domain.AmountSplit:
		if cols.debit, err = lookup("debit", m.DebitColumn); err != nil {
			return cols, err
		}
		if cols.credit, err = lookup("credit", m.CreditColumn); err != nil {
			return cols, err
		}
	default:
		if cols.amount, err = lookup("amount", m.AmountColumn); err != nil {
			return cols, err
		}
	}
	return cols, nil
}

// parseRow returns a candidate, or a warning reason, or skip=true for rows
// excluded silently by the account's ignore patterns.
func parseRow(row Row, cols columns, m domain.ColumnMapping, acct AccountContext) (domain.Candidate, string, bool) {
	rawDate := row.Field(cols.date)
	if rawDate == "" {
		return domain.Candidate{}, "empty date", false
	}
	date, err := format.ParseDate(rawDate, m.DateFormat)
	if err != nil {
		return domain.Candidate{}, err.Error(), false
	}

	desc := joinDescription(row.Field(cols.desc), row.Field(cols.descSecondary))
	if desc == "" {
		return domain.Candidate{}, "empty description", false
	}
	for _, p := range acct.IgnorePatterns {
		if p != "" && strings.Contains(desc, p) {
			return domain.Candidate{}, "", true
		}
	}

	var signed decimal.Decimal
	if m.AmountType == domain.AmountSplit {
		signed, err = splitAmount(row.Field(cols.debit), row.Field(cols.credit), m.AmountFormat)
		if err != nil {
			return domain.Candidate{}, err.Error(), false
		}
	} else {
		raw := row.Field(cols.amount)
		if raw == "" {
			return domain.Candidate{}, "empty amount", false
		}
		signed, err = format.ParseAmount(raw, m.AmountFormat)
		if err != nil {
			return domain.Candidate{}, err.Error(), false
		}
		if acct.InvertSign {
			signed = signed.Neg()
		}
	}
	if signed.IsZero() {
		return domain.Candidate{}, "zero amount", false
	}

	direction := domain.DirectionIncome
	if signed.IsNegative() {
		direction = domain.DirectionExpense
	}

	return domain.Candidate{
		ID:          fmt.Sprintf("row-%d", row.Line),
		Line:        row.Line,
		Date:        date,
		Description: desc,
		Amount:      signed.Abs(),
		Direction:   direction,
	}, "", false
}

func joinDescription(primary, secondary string) string {
	switch {
	case primary == "":
		return secondary
	case secondary == "" || secondary == primary:
		return primary
	default:
		return primary + " " + secondary
	}
}

// splitAmount nets a debit and a credit column into one signed value.
// Debits are outflows whatever sign the bank prints them with.
func splitAmount(debit, credit string, notation domain.AmountFormat) (decimal.Decimal, error) {
	if debit == "" && credit == "" {
		return decimal.Zero, fmt.Errorf("empty debit and credit")
	}
	total := decimal.Zero
	if debit != "" {
		d, err := format.ParseAmount(debit, notation)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Sub(d.Abs())
	}
	if credit != "" {
		c, err := format.ParseAmount(credit, notation)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(c.Abs())
	}
	return total, nil
}
