// Package mapping infers and validates how a bank CSV layout maps onto
// transaction fields, caching the result on the account.
package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/csvimport"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/format"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/oracle"
)

// MappingOracle is the oracle capability used here.
type MappingOracle interface {
	InferMapping(ctx context.Context, sampleCSV string) (oracle.MappingAnswer, error)
}

// MappingCache persists a validated mapping on its account.
type MappingCache interface {
	SaveMapping(ctx context.Context, accountID string, m domain.ColumnMapping) error
}

// Inferrer resolves the column mapping for an import.
type Inferrer struct {
	oracle     MappingOracle
	cache      MappingCache
	sampleSize int
}

// NewInferrer creates an Inferrer. sampleSize <= 0 uses the default.
func NewInferrer(o MappingOracle, cache MappingCache, sampleSize int) *Inferrer {
	if sampleSize <= 0 {
		sampleSize = csvimport.DefaultSampleSize
	}
	return &Inferrer{oracle: o, cache: cache, sampleSize: sampleSize}
}

// AnalyzeAndCacheMapping returns the account's cached mapping when it still
// fits the file's header. Otherwise it asks the oracle, validates the answer
// against the header and caches it on the account. The bool result reports
// whether the cached mapping was reused.
//
// Oracle transport failures are returned unchanged so the caller can retry;
// unusable answers become *AnalysisError.
func (i *Inferrer) AnalyzeAndCacheMapping(ctx context.Context, account *domain.Account, content []byte) (domain.ColumnMapping, bool, error) {
	log := logger.Component(ctx, "mapping")

	delim := csvimport.DetectDelimiter(content)
	if account.Mapping != nil {
		if d := account.Mapping.DelimiterRune(); d != 0 {
			delim = d
		}
	}
	table, err := csvimport.ReadTable(content, delim)
	if err != nil {
		return domain.ColumnMapping{}, false, err
	}

	if account.Mapping != nil {
		if cached, err := Validate(*account.Mapping, table.Header); err == nil {
			log.Debug().Str("account_id", account.ID).Msg("reusing cached column mapping")
			cached.Delimiter = string(table.Delimiter)
			return cached, true, nil
		}
		log.Info().Str("account_id", account.ID).Msg("cached column mapping no longer fits header, re-analyzing")
		// The cached delimiter may be the reason the header no longer fits.
		if table, err = csvimport.ReadTable(content, 0); err != nil {
			return domain.ColumnMapping{}, false, err
		}
	}

	sample := table.Encode(csvimport.SampleRows(table, csvimport.GuessDateColumn(table), i.sampleSize))
	ans, err := i.oracle.InferMapping(ctx, sample)
	if err != nil {
		if errors.Is(err, oracle.ErrMalformedResponse) {
			return domain.ColumnMapping{}, false, &AnalysisError{Field: "answer", Reason: err.Error()}
		}
		return domain.ColumnMapping{}, false, fmt.Errorf("AnalyzeAndCacheMapping: infer mapping: %w", err)
	}

	m, err := Validate(ans.ColumnMapping(), table.Header)
	if err != nil {
		return domain.ColumnMapping{}, false, err
	}
	m.Delimiter = string(table.Delimiter)

	if err := i.cache.SaveMapping(ctx, account.ID, m); err != nil {
		return domain.ColumnMapping{}, false, fmt.Errorf("AnalyzeAndCacheMapping: save mapping: %w", err)
	}
	account.Mapping = &m

	log.Info().
		Str("account_id", account.ID).
		Str("date_column", m.DateColumn).
		Str("amount_type", string(m.AmountType)).
		Msg("column mapping inferred")
	return m, false, nil
}

// Validate checks every column m names against header, rewriting names to
// the header's spelling when they differ only in case. The first column
// that cannot be resolved is reported as *AnalysisError.
func Validate(m domain.ColumnMapping, header []string) (domain.ColumnMapping, error) {
	if m.AmountType == "" {
		switch {
		case m.AmountColumn != "":
			m.AmountType = domain.AmountSingle
		case m.DebitColumn != "" || m.CreditColumn != "":
			m.AmountType = domain.AmountSplit
		default:
			return m, &AnalysisError{Field: "amount_type", Reason: "no amount column identified"}
		}
	}

	type ref struct {
		field    string
		name     *string
		required bool
	}
	refs := []ref{
		{"date", &m.DateColumn, true},
		{"description", &m.DescriptionColumn, true},
		{"description_secondary", &m.DescriptionSecondaryColumn, false},
	}
	if m.AmountType == domain.AmountSplit {
		refs = append(refs, ref{"debit", &m.DebitColumn, true}, ref{"credit", &m.CreditColumn, true})
		m.AmountColumn = ""
	} else {
		refs = append(refs, ref{"amount", &m.AmountColumn, true})
		m.DebitColumn, m.CreditColumn = "", ""
	}

	for _, r := range refs {
		if *r.name == "" {
			if r.required {
				return m, &AnalysisError{Field: r.field, Reason: "column not identified", Available: header}
			}
			continue
		}
		idx := csvimport.ColumnIndex(header, *r.name)
		if idx < 0 {
			return m, missingColumn(r.field, *r.name, header)
		}
		*r.name = header[idx]
	}

	if m.DateFormat != "" {
		if err := format.ValidateFormat(m.DateFormat); err != nil {
			return m, &AnalysisError{Field: "date_format", Reason: err.Error()}
		}
	}
	if m.AmountFormat == "" {
		m.AmountFormat = domain.AmountFormatPlain
	}
	return m, nil
}
