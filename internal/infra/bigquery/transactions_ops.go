package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

const transactionColumns = `transaction_id, account_id, import_id, transaction_date, description,
	amount, direction, category_id, fingerprint, embedding, created_ts`

func (s *Store) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(fingerprints) == 0 {
		return found, nil
	}
	err := s.read(ctx, `
		SELECT DISTINCT fingerprint
		FROM `+s.table(transactionsTable)+`
		WHERE fingerprint IN UNNEST(@fingerprints)`,
		[]bigquery.QueryParameter{{Name: "fingerprints", Value: fingerprints}},
		func(it *bigquery.RowIterator) error {
			var row struct {
				Fingerprint string `bigquery:"fingerprint"`
			}
			if err := it.Next(&row); err != nil {
				return err
			}
			found[row.Fingerprint] = true
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("ExistingFingerprints: %w", err)
	}
	return found, nil
}

func (s *Store) RecentEmbeddings(ctx context.Context, direction domain.Direction, limit int) ([]domain.LabeledVector, error) {
	sql := `
		SELECT category_id, description, embedding
		FROM ` + s.table(transactionsTable) + `
		WHERE direction = @direction
		  AND category_id IS NOT NULL AND category_id != ''
		  AND ARRAY_LENGTH(embedding) > 0
		ORDER BY created_ts DESC`
	params := []bigquery.QueryParameter{{Name: "direction", Value: string(direction)}}
	if limit > 0 {
		sql += ` LIMIT @limit`
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: limit})
	}

	var out []domain.LabeledVector
	err := s.read(ctx, sql, params, func(it *bigquery.RowIterator) error {
		var row struct {
			CategoryID  string    `bigquery:"category_id"`
			Description string    `bigquery:"description"`
			Embedding   []float64 `bigquery:"embedding"`
		}
		if err := it.Next(&row); err != nil {
			return err
		}
		out = append(out, domain.LabeledVector{
			CategoryID:  row.CategoryID,
			Description: row.Description,
			Vector:      toFloat32(row.Embedding),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("RecentEmbeddings: %w", err)
	}
	return out, nil
}

// transactionQuery builds the filtered listing statement.
func (s *Store) transactionQuery(f store.TransactionFilter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if f.AccountID != "" {
		where = append(where, "account_id = @account_id")
		params = append(params, bigquery.QueryParameter{Name: "account_id", Value: f.AccountID})
	}
	if f.CategorizedOnly {
		where = append(where, "category_id IS NOT NULL AND category_id != ''")
	}
	if !f.From.IsZero() {
		where = append(where, "transaction_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: f.From})
	}
	if !f.To.IsZero() {
		where = append(where, "transaction_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: f.To})
	}
	if f.Text != "" {
		where = append(where, "STRPOS(LOWER(description), LOWER(@text)) > 0")
		params = append(params, bigquery.QueryParameter{Name: "text", Value: f.Text})
	}

	sql := `SELECT ` + transactionColumns + ` FROM ` + s.table(transactionsTable)
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_ts, transaction_id`
	if f.Limit > 0 {
		sql += ` LIMIT @limit`
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: f.Limit})
	}
	return sql, params
}

func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	sql, params := s.transactionQuery(f)

	var out []domain.Transaction
	err := s.read(ctx, sql, params, func(it *bigquery.RowIterator) error {
		var r TransactionRow
		if err := it.Next(&r); err != nil {
			return err
		}
		tx, err := r.toDomain()
		if err != nil {
			return err
		}
		out = append(out, tx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	return out, nil
}

// insertTransactions streams rows into the transactions table.
func (s *Store) insertTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]*TransactionRow, len(txs))
	for i, tx := range txs {
		rows[i] = transactionRowFrom(tx)
	}
	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("inserting rows: %w", err)
	}
	return nil
}
