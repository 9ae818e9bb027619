package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-importer/internal/domain"
)

type AccountRow struct {
	AccountID string `bigquery:"account_id"` // REQUIRED

	AccountName    bigquery.NullString `bigquery:"account_name"`    // NULLABLE
	AccountType    bigquery.NullString `bigquery:"account_type"`    // NULLABLE
	Currency       bigquery.NullString `bigquery:"currency"`        // NULLABLE
	InvertSign     bigquery.NullBool   `bigquery:"invert_sign"`     // NULLABLE
	IgnorePatterns []string            `bigquery:"ignore_patterns"` // REPEATED STRING
	ColumnMapping  bigquery.NullString `bigquery:"column_mapping"`  // NULLABLE, JSON text

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

func (r AccountRow) toDomain() (*domain.Account, error) {
	a := &domain.Account{
		ID:             r.AccountID,
		Name:           r.AccountName.StringVal,
		Type:           r.AccountType.StringVal,
		Currency:       r.Currency.StringVal,
		InvertSign:     r.InvertSign.Valid && r.InvertSign.Bool,
		IgnorePatterns: r.IgnorePatterns,
		CreatedAt:      r.CreatedTS,
	}
	if r.ColumnMapping.Valid && r.ColumnMapping.StringVal != "" {
		var m domain.ColumnMapping
		if err := json.Unmarshal([]byte(r.ColumnMapping.StringVal), &m); err != nil {
			return nil, fmt.Errorf("account %s: decode column mapping: %w", r.AccountID, err)
		}
		a.Mapping = &m
	}
	return a, nil
}

func accountRowFrom(a *domain.Account) (AccountRow, error) {
	row := AccountRow{
		AccountID:      a.ID,
		AccountName:    nullString(a.Name),
		AccountType:    nullString(a.Type),
		Currency:       nullString(a.Currency),
		InvertSign:     bigquery.NullBool{Bool: a.InvertSign, Valid: true},
		IgnorePatterns: a.IgnorePatterns,
		CreatedTS:      a.CreatedAt,
	}
	if row.IgnorePatterns == nil {
		row.IgnorePatterns = []string{}
	}
	if a.Mapping != nil {
		b, err := json.Marshal(a.Mapping)
		if err != nil {
			return AccountRow{}, fmt.Errorf("encode column mapping: %w", err)
		}
		row.ColumnMapping = nullString(string(b))
	}
	return row, nil
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
