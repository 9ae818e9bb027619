package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/google/uuid"
)

var now = func() time.Time { return time.Now().UTC() }

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, direction, embedding, created_at
		FROM categories
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var (
			c         domain.Category
			direction string
			embedding sql.NullString
			created   string
		)
		if err := rows.Scan(&c.ID, &c.Name, &direction, &embedding, &created); err != nil {
			return nil, fmt.Errorf("ListCategories: scan: %w", err)
		}
		c.Direction = domain.Direction(direction)
		if c.Embedding, err = decodeVector(embedding); err != nil {
			return nil, fmt.Errorf("ListCategories: %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("ListCategories: %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListCategories: rows: %w", err)
	}
	return out, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	if !c.Direction.Valid() {
		return fmt.Errorf("CreateCategory: invalid direction %q", c.Direction)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	vec, err := encodeVector(c.Embedding)
	if err != nil {
		return fmt.Errorf("CreateCategory: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, direction, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Direction), vec, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("CreateCategory: insert: %w", err)
	}
	return nil
}

// DeleteCategory removes a category. Its rules stay behind until
// maintenance removes the machine ones.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteCategory: delete: %w", err)
	}
	return requireAffected(res, "DeleteCategory", id)
}

func (s *Store) SetCategoryEmbedding(ctx context.Context, categoryID string, vector []float32) error {
	vec, err := encodeVector(vector)
	if err != nil {
		return fmt.Errorf("SetCategoryEmbedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE categories SET embedding = ? WHERE id = ?`, vec, categoryID)
	if err != nil {
		return fmt.Errorf("SetCategoryEmbedding: update: %w", err)
	}
	return requireAffected(res, "SetCategoryEmbedding", categoryID)
}

var _ store.Store = (*Store)(nil)

func notFound(op, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %s: %w", op, id, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
