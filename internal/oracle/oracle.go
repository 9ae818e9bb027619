// Package oracle wraps the external language model used to infer CSV column
// mappings, embed transaction descriptions and classify transactions.
package oracle

import (
	"context"
	"errors"
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
)

var (
	// ErrUnavailable means the service could not be reached or refused the
	// request for capacity reasons. Callers may retry.
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrTimeout means the call exceeded its deadline. Callers may retry.
	ErrTimeout = errors.New("oracle timeout")
	// ErrRejected means the service rejected the request itself.
	ErrRejected = errors.New("oracle rejected request")
	// ErrMalformedResponse means the answer could not be decoded.
	ErrMalformedResponse = errors.New("oracle returned malformed response")
)

// Retryable reports whether err is a transient oracle failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// Oracle is the capability surface the pipeline needs from a model provider.
type Oracle interface {
	InferMapping(ctx context.Context, sampleCSV string) (MappingAnswer, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbeddingsAvailable(ctx context.Context) bool
	Classify(ctx context.Context, prompt string) (string, error)
}

// MappingAnswer is the JSON shape the model returns for a mapping request.
type MappingAnswer struct {
	DateColumn                 string `json:"date_column"`
	DescriptionColumn          string `json:"description_column"`
	DescriptionSecondaryColumn string `json:"description_secondary_column"`
	AmountType                 string `json:"amount_type"`
	AmountColumn               string `json:"amount_column"`
	DebitColumn                string `json:"debit_column"`
	CreditColumn               string `json:"credit_column"`
	DateFormat                 string `json:"date_format"`
	AmountFormat               string `json:"amount_format"`
}

// ColumnMapping converts the answer into a domain mapping, normalizing the
// enumerated fields. Unknown amount formats fall back to plain.
func (a MappingAnswer) ColumnMapping() domain.ColumnMapping {
	m := domain.ColumnMapping{
		DateColumn:                 strings.TrimSpace(a.DateColumn),
		DescriptionColumn:          strings.TrimSpace(a.DescriptionColumn),
		DescriptionSecondaryColumn: strings.TrimSpace(a.DescriptionSecondaryColumn),
		AmountColumn:               strings.TrimSpace(a.AmountColumn),
		DebitColumn:                strings.TrimSpace(a.DebitColumn),
		CreditColumn:               strings.TrimSpace(a.CreditColumn),
		DateFormat:                 strings.TrimSpace(a.DateFormat),
	}

	switch domain.AmountType(strings.ToLower(strings.TrimSpace(a.AmountType))) {
	case domain.AmountSplit:
		m.AmountType = domain.AmountSplit
	case domain.AmountSingle:
		m.AmountType = domain.AmountSingle
	}

	switch domain.AmountFormat(strings.ToLower(strings.TrimSpace(a.AmountFormat))) {
	case domain.AmountFormatEU:
		m.AmountFormat = domain.AmountFormatEU
	case domain.AmountFormatUS:
		m.AmountFormat = domain.AmountFormatUS
	default:
		m.AmountFormat = domain.AmountFormatPlain
	}

	if strings.EqualFold(m.DescriptionSecondaryColumn, "null") {
		m.DescriptionSecondaryColumn = ""
	}
	return m
}
