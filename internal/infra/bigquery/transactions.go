package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// numericScale is the fractional precision of a BigQuery NUMERIC.
const numericScale = 9

type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	AccountID string `bigquery:"account_id"` // REQUIRED
	ImportID  string `bigquery:"import_id"`  // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Description     string     `bigquery:"description"`      // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC, positive magnitude
	Direction       string     `bigquery:"direction"`        // REQUIRED: income | expense

	CategoryID  bigquery.NullString `bigquery:"category_id"` // NULLABLE
	Fingerprint string              `bigquery:"fingerprint"` // REQUIRED
	Embedding   []float64           `bigquery:"embedding"`   // REPEATED FLOAT64

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

func transactionRowFrom(tx domain.Transaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:   tx.ID,
		AccountID:       tx.AccountID,
		ImportID:        tx.ImportID,
		TransactionDate: tx.Date,
		Description:     tx.Description,
		Amount:          tx.Amount.Rat(),
		Direction:       string(tx.Direction),
		CategoryID:      nullString(tx.CategoryID),
		Fingerprint:     tx.Fingerprint,
		Embedding:       toFloat64(tx.Embedding),
		CreatedTS:       tx.CreatedAt,
	}
}

func (r TransactionRow) toDomain() (domain.Transaction, error) {
	amount := decimal.Zero
	if r.Amount != nil {
		var err error
		amount, err = decimal.NewFromString(r.Amount.FloatString(numericScale))
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("transaction %s: amount: %w", r.TransactionID, err)
		}
	}
	return domain.Transaction{
		ID:          r.TransactionID,
		AccountID:   r.AccountID,
		ImportID:    r.ImportID,
		Date:        r.TransactionDate,
		Description: r.Description,
		Amount:      amount,
		Direction:   domain.Direction(r.Direction),
		CategoryID:  r.CategoryID.StringVal,
		Fingerprint: r.Fingerprint,
		Embedding:   toFloat32(r.Embedding),
		CreatedAt:   r.CreatedTS,
	}, nil
}
