package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrUnparseableAmount is returned for values that do not reduce to a number.
var ErrUnparseableAmount = errors.New("unparseable amount")

var plainNumber = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

// ParseAmount converts a bank-formatted amount into a signed decimal.
// Currency symbols and codes around the number are ignored, as are spaces and
// apostrophes used for grouping inside it. One sign is accepted: a leading or
// trailing minus or plus, or surrounding parentheses. Anything else inside
// the number, such as a second sign or a dash between digits, is rejected.
func ParseAmount(value string, notation domain.AmountFormat) (decimal.Decimal, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrUnparseableAmount)
	}
	malformed := fmt.Errorf("%w: %q", ErrUnparseableAmount, value)

	signs := 0
	negative := false
	if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
		signs++
		negative = true
		raw = raw[1 : len(raw)-1]
	}

	runes := []rune(raw)
	first, last := -1, -1
	for i, r := range runes {
		if isDigit(r) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return decimal.Zero, malformed
	}

	var b strings.Builder
	for i, r := range runes {
		switch {
		case isDigit(r), r == '.', r == ',':
			b.WriteRune(r)
		case isSign(r):
			if i > first && i < last {
				return decimal.Zero, malformed
			}
			signs++
			if r != '+' {
				negative = true
			}
		case i > first && i < last && !isGrouping(r):
			return decimal.Zero, malformed
		}
	}
	if signs > 1 {
		return decimal.Zero, malformed
	}

	normalized := normalizeSeparators(b.String(), notation)
	if !plainNumber.MatchString(normalized) {
		return decimal.Zero, malformed
	}

	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, ".") {
		normalized = "0" + normalized
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrUnparseableAmount, value, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isSign(r rune) bool { return r == '-' || r == '+' || r == '−' }

// isGrouping reports whether r may separate digit groups.
func isGrouping(r rune) bool {
	switch r {
	case ' ', '\'', '’', '\u00a0', '\u202f':
		return true
	}
	return false
}

// normalizeSeparators removes grouping separators and leaves '.' as the
// decimal point.
func normalizeSeparators(s string, notation domain.AmountFormat) string {
	switch notation {
	case domain.AmountFormatEU:
		s = strings.ReplaceAll(s, ".", "")
		return strings.ReplaceAll(s, ",", ".")
	case domain.AmountFormatUS:
		return strings.ReplaceAll(s, ",", "")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.ReplaceAll(s, ",", ".")
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		// A two-digit group after the last comma is a decimal part.
		if len(s)-lastComma-1 == 2 {
			return strings.ReplaceAll(s[:lastComma], ",", "") + "." + s[lastComma+1:]
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
