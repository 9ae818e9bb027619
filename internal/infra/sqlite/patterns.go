package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/google/uuid"
)

const patternColumns = `p.id, p.category_id, p.pattern, p.source, p.match_count, p.confidence, p.created_at`

const patternOrder = `ORDER BY p.confidence DESC, p.match_count DESC, p.created_at ASC, p.id ASC`

func scanPatterns(rows *sql.Rows) ([]domain.Pattern, error) {
	defer rows.Close()

	var out []domain.Pattern
	for rows.Next() {
		var (
			p       domain.Pattern
			source  string
			created string
		)
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.Text, &source, &p.MatchCount, &p.Confidence, &created); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Source = domain.PatternSource(source)
		t, err := parseTime(created)
		if err != nil {
			return nil, err
		}
		p.CreatedAt = t
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPatterns returns rules of one source for categories of a direction.
func (s *Store) ListPatterns(ctx context.Context, direction domain.Direction, source domain.PatternSource) ([]domain.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM category_patterns p
		JOIN categories c ON c.id = p.category_id
		WHERE c.direction = ? AND p.source = ?
		`+patternOrder,
		string(direction), string(source))
	if err != nil {
		return nil, fmt.Errorf("ListPatterns: query: %w", err)
	}
	out, err := scanPatterns(rows)
	if err != nil {
		return nil, fmt.Errorf("ListPatterns: %w", err)
	}
	return out, nil
}

// ListAllPatterns returns every rule, including those whose category is
// gone.
func (s *Store) ListAllPatterns(ctx context.Context) ([]domain.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM category_patterns p
		`+patternOrder)
	if err != nil {
		return nil, fmt.Errorf("ListAllPatterns: query: %w", err)
	}
	out, err := scanPatterns(rows)
	if err != nil {
		return nil, fmt.Errorf("ListAllPatterns: %w", err)
	}
	return out, nil
}

// CreatePattern inserts a rule. A rule with the same text (ignoring case)
// and source yields store.ErrDuplicateRule.
func (s *Store) CreatePattern(ctx context.Context, p *domain.Pattern) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE id = ?`, p.CategoryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("CreatePattern: category %s: %w", p.CategoryID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("CreatePattern: check category: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO category_patterns (id, category_id, pattern, source, match_count, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CategoryID, p.Text, string(p.Source), p.MatchCount, p.Confidence, formatTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("CreatePattern: %q (%s): %w", p.Text, p.Source, store.ErrDuplicateRule)
	}
	if err != nil {
		return fmt.Errorf("CreatePattern: insert: %w", err)
	}
	return nil
}

// IncrementMatchCount bumps a rule's counter in a single statement.
func (s *Store) IncrementMatchCount(ctx context.Context, patternID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE category_patterns SET match_count = match_count + 1 WHERE id = ?`, patternID)
	if err != nil {
		return fmt.Errorf("IncrementMatchCount: update: %w", err)
	}
	return requireAffected(res, "IncrementMatchCount", patternID)
}

func (s *Store) DeletePattern(ctx context.Context, patternID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM category_patterns WHERE id = ?`, patternID)
	if err != nil {
		return fmt.Errorf("DeletePattern: delete: %w", err)
	}
	return requireAffected(res, "DeletePattern", patternID)
}

func requireAffected(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}
