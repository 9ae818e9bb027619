package domain

import "time"

// AmountType tells the row parser whether the signed value lives in one
// column or is split across debit and credit columns.
type AmountType string

const (
	AmountSingle AmountType = "single"
	AmountSplit  AmountType = "split"
)

// AmountFormat is the number notation used by a bank export.
type AmountFormat string

const (
	AmountFormatEU    AmountFormat = "eu"
	AmountFormatUS    AmountFormat = "us"
	AmountFormatPlain AmountFormat = "plain"
)

// ColumnMapping describes how a bank's CSV layout maps onto transaction
// fields. Column names are stored using the header's own spelling.
type ColumnMapping struct {
	DateColumn                 string       `json:"date_column"`
	DescriptionColumn          string       `json:"description_column"`
	DescriptionSecondaryColumn string       `json:"description_secondary_column,omitempty"`
	AmountType                 AmountType   `json:"amount_type"`
	AmountColumn               string       `json:"amount_column,omitempty"`
	DebitColumn                string       `json:"debit_column,omitempty"`
	CreditColumn               string       `json:"credit_column,omitempty"`
	DateFormat                 string       `json:"date_format"`
	AmountFormat               AmountFormat `json:"amount_format"`
	Delimiter                  string       `json:"delimiter,omitempty"`
}

// DelimiterRune returns the configured delimiter, or 0 when it should be
// detected from the content.
func (m ColumnMapping) DelimiterRune() rune {
	for _, r := range m.Delimiter {
		return r
	}
	return 0
}

// Account is a ledger account owning imports. Mapping is the cached column
// mapping from a previous import, if any.
type Account struct {
	ID             string
	Name           string
	Type           string
	Currency       string
	InvertSign     bool
	IgnorePatterns []string
	Mapping        *ColumnMapping
	CreatedAt      time.Time
}
