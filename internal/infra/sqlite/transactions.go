package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQLite caps bound parameters per statement; stay well below it.
const fingerprintChunk = 500

func (s *Store) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	found := make(map[string]bool)
	for start := 0; start < len(fingerprints); start += fingerprintChunk {
		end := start + fingerprintChunk
		if end > len(fingerprints) {
			end = len(fingerprints)
		}
		chunk := fingerprints[start:end]
		args := make([]interface{}, len(chunk))
		for i, fp := range chunk {
			args[i] = fp
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT fingerprint FROM transactions WHERE fingerprint IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("ExistingFingerprints: query: %w", err)
		}
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				rows.Close()
				return nil, fmt.Errorf("ExistingFingerprints: scan: %w", err)
			}
			found[fp] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("ExistingFingerprints: rows: %w", err)
		}
	}
	return found, nil
}

func (s *Store) RecentEmbeddings(ctx context.Context, direction domain.Direction, limit int) ([]domain.LabeledVector, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id, description, embedding
		FROM transactions
		WHERE direction = ? AND category_id != '' AND embedding IS NOT NULL
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		string(direction), limit)
	if err != nil {
		return nil, fmt.Errorf("RecentEmbeddings: query: %w", err)
	}
	defer rows.Close()

	var out []domain.LabeledVector
	for rows.Next() {
		var (
			lv  domain.LabeledVector
			vec sql.NullString
		)
		if err := rows.Scan(&lv.CategoryID, &lv.Description, &vec); err != nil {
			return nil, fmt.Errorf("RecentEmbeddings: scan: %w", err)
		}
		if lv.Vector, err = decodeVector(vec); err != nil {
			return nil, fmt.Errorf("RecentEmbeddings: %w", err)
		}
		if len(lv.Vector) == 0 {
			continue
		}
		out = append(out, lv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("RecentEmbeddings: rows: %w", err)
	}
	return out, nil
}

// ListTransactions returns committed transactions in commit order.
func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CategorizedOnly {
		where = append(where, "category_id != ''")
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.Text != "" {
		where = append(where, "instr(lower(description), lower(?)) > 0")
		args = append(args, f.Text)
	}

	query := `SELECT id, account_id, import_id, date, description, amount, direction,
		category_id, fingerprint, embedding, created_at FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: rows: %w", err)
	}
	return out, nil
}

func scanTransaction(r rowScanner) (*domain.Transaction, error) {
	var (
		tx                     domain.Transaction
		date, amount, dir, cre string
		vec                    sql.NullString
	)
	if err := r.Scan(&tx.ID, &tx.AccountID, &tx.ImportID, &date, &tx.Description, &amount, &dir,
		&tx.CategoryID, &tx.Fingerprint, &vec, &cre); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	var err error
	if tx.Date, err = civil.ParseDate(date); err != nil {
		return nil, fmt.Errorf("transaction %s: date: %w", tx.ID, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s: amount: %w", tx.ID, err)
	}
	tx.Direction = domain.Direction(dir)
	if tx.Embedding, err = decodeVector(vec); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	if tx.CreatedAt, err = parseTime(cre); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return &tx, nil
}

func insertTransactions(ctx context.Context, db execer, txs []domain.Transaction) error {
	for i := range txs {
		tx := &txs[i]
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now()
		}
		vec, err := encodeVector(tx.Embedding)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO transactions (id, account_id, import_id, date, description, amount, direction,
				category_id, fingerprint, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.AccountID, tx.ImportID, tx.Date.String(), tx.Description, tx.Amount.String(),
			string(tx.Direction), tx.CategoryID, tx.Fingerprint, vec, formatTime(tx.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
		}
	}
	return nil
}
