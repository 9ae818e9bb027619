package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/google/uuid"
)

const accountColumns = `id, name, type, currency, invert_sign, ignore_patterns, column_mapping, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(r rowScanner) (*domain.Account, error) {
	var (
		a       domain.Account
		invert  int
		ignore  string
		mapping sql.NullString
		created string
	)
	if err := r.Scan(&a.ID, &a.Name, &a.Type, &a.Currency, &invert, &ignore, &mapping, &created); err != nil {
		return nil, err
	}
	a.InvertSign = invert != 0
	if ignore != "" {
		if err := json.Unmarshal([]byte(ignore), &a.IgnorePatterns); err != nil {
			return nil, fmt.Errorf("decode ignore patterns: %w", err)
		}
	}
	if mapping.Valid && mapping.String != "" {
		var m domain.ColumnMapping
		if err := json.Unmarshal([]byte(mapping.String), &m); err != nil {
			return nil, fmt.Errorf("decode column mapping: %w", err)
		}
		a.Mapping = &m
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = t
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound("GetAccount", id, err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: scan: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAccounts: rows: %w", err)
	}
	return out, nil
}

// SaveAccount inserts or replaces an account.
func (s *Store) SaveAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}
	ignore := a.IgnorePatterns
	if ignore == nil {
		ignore = []string{}
	}
	ignoreJSON, err := encodeJSON(ignore)
	if err != nil {
		return fmt.Errorf("SaveAccount: encode ignore patterns: %w", err)
	}
	var mapping sql.NullString
	if a.Mapping != nil {
		m, err := encodeJSON(a.Mapping)
		if err != nil {
			return fmt.Errorf("SaveAccount: encode mapping: %w", err)
		}
		mapping = sql.NullString{String: m, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			currency = excluded.currency,
			invert_sign = excluded.invert_sign,
			ignore_patterns = excluded.ignore_patterns,
			column_mapping = excluded.column_mapping`,
		a.ID, a.Name, a.Type, a.Currency, boolInt(a.InvertSign), ignoreJSON, mapping, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("SaveAccount: upsert: %w", err)
	}
	return nil
}

// SaveMapping caches a validated column mapping on the account.
func (s *Store) SaveMapping(ctx context.Context, accountID string, m domain.ColumnMapping) error {
	encoded, err := encodeJSON(m)
	if err != nil {
		return fmt.Errorf("SaveMapping: encode: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET column_mapping = ? WHERE id = ?`, encoded, accountID)
	if err != nil {
		return fmt.Errorf("SaveMapping: update: %w", err)
	}
	return requireAffected(res, "SaveMapping", accountID)
}
