// Package format converts bank-specific date and number notations into
// calendar dates and exact decimal amounts.
package format

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/itchyny/timefmt-go"
)

// ErrUnparseableDate is returned when a value matches neither the declared
// format nor any of the fallback formats.
var ErrUnparseableDate = errors.New("unparseable date")

// FallbackDateFormats are tried in order when the declared format fails.
var FallbackDateFormats = []string{
	"%Y-%m-%d",
	"%d.%m.%Y",
	"%d.%m.%y",
	"%m/%d/%Y",
	"%d/%m/%Y",
	"%Y/%m/%d",
}

var referenceDate = civil.Date{Year: 2026, Month: time.November, Day: 23}

// ValidateFormat reports whether strftime can both render and read back a
// full calendar date.
func ValidateFormat(strftime string) error {
	if strings.TrimSpace(strftime) == "" {
		return fmt.Errorf("ValidateFormat: empty format")
	}
	rendered := timefmt.Format(referenceDate.In(time.UTC), strftime)
	t, err := timefmt.Parse(rendered, strftime)
	if err != nil {
		return fmt.Errorf("ValidateFormat: %q: %w", strftime, err)
	}
	if civil.DateOf(t) != referenceDate {
		return fmt.Errorf("ValidateFormat: %q does not identify a full date", strftime)
	}
	return nil
}

// ParseDate parses value with the declared strftime format, then with each
// fallback format. It never guesses past a value none of them accept.
func ParseDate(value, strftime string) (civil.Date, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return civil.Date{}, fmt.Errorf("%w: empty value", ErrUnparseableDate)
	}

	if strftime != "" {
		if d, err := parseWith(value, strftime); err == nil {
			return d, nil
		}
	}
	for _, f := range FallbackDateFormats {
		if f == strftime {
			continue
		}
		if d, err := parseWith(value, f); err == nil {
			return d, nil
		}
	}

	// Some exports append a time to the date column.
	if fields := strings.Fields(value); len(fields) > 1 {
		if d, err := ParseDate(fields[0], strftime); err == nil {
			return d, nil
		}
	}

	return civil.Date{}, fmt.Errorf("%w: %q (format %q)", ErrUnparseableDate, value, strftime)
}

// parseWith reads value with one format. The result is rendered back and
// compared with the input so that out-of-range fields such as 30 February
// are rejected instead of rolling over into the next month.
func parseWith(value, strftime string) (civil.Date, error) {
	t, err := timefmt.Parse(value, strftime)
	if err != nil {
		return civil.Date{}, err
	}
	if canonical(timefmt.Format(t, strftime)) != canonical(value) {
		return civil.Date{}, fmt.Errorf("%q is not a valid date for %q", value, strftime)
	}
	return civil.DateOf(t), nil
}

// canonical lower-cases s, collapses whitespace and drops leading zeros from
// numbers, so unpadded input compares equal to its padded rendering.
func canonical(s string) string {
	runes := []rune(strings.Join(strings.Fields(strings.ToLower(s)), " "))
	var b strings.Builder
	inNumber := false
	for i, r := range runes {
		digit := unicode.IsDigit(r)
		if digit && !inNumber && r == '0' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			continue
		}
		inNumber = digit
		b.WriteRune(r)
	}
	return b.String()
}

// FormatDate renders d with a strftime-style format.
func FormatDate(d civil.Date, strftime string) (string, error) {
	if err := ValidateFormat(strftime); err != nil {
		return "", err
	}
	return timefmt.Format(d.In(time.UTC), strftime), nil
}
