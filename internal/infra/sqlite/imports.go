package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/google/uuid"
)

const importColumns = `id, account_id, filename, content_type, content, source_uri, status,
	candidates, warnings, progress_current, progress_total, progress_label,
	error_stage, error_message, previous_attempt_id,
	created_at, started_at, completed_at, committed_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) CreateImport(ctx context.Context, imp *domain.Import) error {
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = now()
	}
	if imp.Status == "" {
		imp.Status = domain.ImportPending
	}
	candidates, warnings, err := encodeStaged(imp)
	if err != nil {
		return fmt.Errorf("CreateImport: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO imports (`+importColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.ID, imp.AccountID, imp.Filename, imp.ContentType, imp.Content, imp.SourceURI, string(imp.Status),
		candidates, warnings, imp.Progress.Current, imp.Progress.Total, imp.Progress.Label,
		string(imp.ErrorStage), imp.ErrorMessage, imp.PreviousAttemptID,
		formatTime(imp.CreatedAt), nullTime(imp.StartedAt), nullTime(imp.CompletedAt), nullTime(imp.CommittedAt))
	if err != nil {
		return fmt.Errorf("CreateImport: insert: %w", err)
	}
	return nil
}

func scanImport(r rowScanner) (*domain.Import, error) {
	var (
		imp                           domain.Import
		status, stage                 string
		candidates, warnings          string
		created                       string
		started, completed, committed sql.NullString
	)
	if err := r.Scan(
		&imp.ID, &imp.AccountID, &imp.Filename, &imp.ContentType, &imp.Content, &imp.SourceURI, &status,
		&candidates, &warnings, &imp.Progress.Current, &imp.Progress.Total, &imp.Progress.Label,
		&stage, &imp.ErrorMessage, &imp.PreviousAttemptID,
		&created, &started, &completed, &committed); err != nil {
		return nil, err
	}
	imp.Status = domain.ImportStatus(status)
	imp.ErrorStage = domain.ErrorStage(stage)

	if err := json.Unmarshal([]byte(candidates), &imp.Candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &imp.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	var err error
	if imp.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{{started, &imp.StartedAt}, {completed, &imp.CompletedAt}, {committed, &imp.CommittedAt}} {
		if *f.dst, err = parseNullTime(f.src); err != nil {
			return nil, err
		}
	}
	return &imp, nil
}

func (s *Store) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	imp, err := scanImport(s.db.QueryRowContext(ctx, `SELECT `+importColumns+` FROM imports WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("GetImport", id, err)
	}
	return imp, nil
}

// ListImports returns matching imports, oldest first.
func (s *Store) ListImports(ctx context.Context, f store.ImportFilter) ([]domain.Import, error) {
	query := `SELECT ` + importColumns + ` FROM imports WHERE 1 = 1`
	var args []interface{}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at, rowid`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListImports: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Import
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("ListImports: %w", err)
		}
		out = append(out, *imp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListImports: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p domain.Progress) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE imports SET progress_current = ?, progress_total = ?, progress_label = ?
		WHERE id = ?`,
		p.Current, p.Total, p.Label, id)
	if err != nil {
		return fmt.Errorf("UpdateProgress: update: %w", err)
	}
	return requireAffected(res, "UpdateProgress", id)
}

// TransitionImport writes imp only while the stored status still equals
// from.
func (s *Store) TransitionImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus) error {
	if err := transition(ctx, s.db, imp, from); err != nil {
		return fmt.Errorf("TransitionImport: %w", err)
	}
	return nil
}

// CommitImport inserts txs and transitions imp in one database
// transaction.
func (s *Store) CommitImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus, txs []domain.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CommitImport: begin: %w", err)
	}
	defer tx.Rollback()

	if err := transition(ctx, tx, imp, from); err != nil {
		return fmt.Errorf("CommitImport: %w", err)
	}
	if err := insertTransactions(ctx, tx, txs); err != nil {
		return fmt.Errorf("CommitImport: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("CommitImport: commit: %w", err)
	}
	return nil
}

func transition(ctx context.Context, db execer, imp *domain.Import, from domain.ImportStatus) error {
	candidates, warnings, err := encodeStaged(imp)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE imports SET
			status = ?, candidates = ?, warnings = ?,
			progress_current = ?, progress_total = ?, progress_label = ?,
			error_stage = ?, error_message = ?,
			started_at = ?, completed_at = ?, committed_at = ?
		WHERE id = ? AND status = ?`,
		string(imp.Status), candidates, warnings,
		imp.Progress.Current, imp.Progress.Total, imp.Progress.Label,
		string(imp.ErrorStage), imp.ErrorMessage,
		nullTime(imp.StartedAt), nullTime(imp.CompletedAt), nullTime(imp.CommittedAt),
		imp.ID, string(from))
	if err != nil {
		return fmt.Errorf("update import: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM imports WHERE id = ?`, imp.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", imp.ID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return fmt.Errorf("%s is %s, expected %s: %w", imp.ID, current, from, store.ErrStaleState)
}

func encodeStaged(imp *domain.Import) (string, string, error) {
	cands := imp.Candidates
	if cands == nil {
		cands = []domain.Candidate{}
	}
	warns := imp.Warnings
	if warns == nil {
		warns = []string{}
	}
	c, err := encodeJSON(cands)
	if err != nil {
		return "", "", fmt.Errorf("encode candidates: %w", err)
	}
	w, err := encodeJSON(warns)
	if err != nil {
		return "", "", fmt.Errorf("encode warnings: %w", err)
	}
	return c, w, nil
}
