package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

const accountColumns = `account_id, account_name, account_type, currency, invert_sign,
	ignore_patterns, column_mapping, created_ts`

func (s *Store) listAccounts(ctx context.Context, where string, params []bigquery.QueryParameter) ([]domain.Account, error) {
	var out []domain.Account
	err := s.read(ctx, `
		SELECT `+accountColumns+`
		FROM `+s.table(accountsTable)+`
		`+where+`
		ORDER BY account_name, account_id`,
		params,
		func(it *bigquery.RowIterator) error {
			var r AccountRow
			if err := it.Next(&r); err != nil {
				return err
			}
			a, err := r.toDomain()
			if err != nil {
				return err
			}
			out = append(out, *a)
			return nil
		})
	return out, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	accounts, err := s.listAccounts(ctx, `WHERE account_id = @account_id`,
		[]bigquery.QueryParameter{{Name: "account_id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("GetAccount: %s: %w", id, store.ErrNotFound)
	}
	return &accounts[0], nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.listAccounts(ctx, "", nil)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return accounts, nil
}

// SaveAccount inserts the account or replaces the stored one with the same
// ID.
func (s *Store) SaveAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	row, err := accountRowFrom(a)
	if err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}

	_, err = s.exec(ctx, `
		MERGE `+s.table(accountsTable)+` t
		USING (SELECT @account_id AS account_id) src
		ON t.account_id = src.account_id
		WHEN MATCHED THEN UPDATE SET
			account_name = @account_name,
			account_type = @account_type,
			currency = @currency,
			invert_sign = @invert_sign,
			ignore_patterns = @ignore_patterns,
			column_mapping = @column_mapping
		WHEN NOT MATCHED THEN
			INSERT (`+accountColumns+`)
			VALUES (@account_id, @account_name, @account_type, @currency, @invert_sign,
				@ignore_patterns, @column_mapping, @created_ts)`,
		[]bigquery.QueryParameter{
			{Name: "account_id", Value: row.AccountID},
			{Name: "account_name", Value: row.AccountName},
			{Name: "account_type", Value: row.AccountType},
			{Name: "currency", Value: row.Currency},
			{Name: "invert_sign", Value: row.InvertSign},
			{Name: "ignore_patterns", Value: row.IgnorePatterns},
			{Name: "column_mapping", Value: row.ColumnMapping},
			{Name: "created_ts", Value: row.CreatedTS},
		})
	if err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}
	return nil
}

func (s *Store) SaveMapping(ctx context.Context, accountID string, m domain.ColumnMapping) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("SaveMapping: encode: %w", err)
	}
	n, err := s.exec(ctx, `
		UPDATE `+s.table(accountsTable)+`
		SET column_mapping = @column_mapping
		WHERE account_id = @account_id`,
		[]bigquery.QueryParameter{
			{Name: "column_mapping", Value: string(b)},
			{Name: "account_id", Value: accountID},
		})
	if err != nil {
		return fmt.Errorf("SaveMapping: %w", err)
	}
	return requireAffected(n, "SaveMapping", accountID)
}
