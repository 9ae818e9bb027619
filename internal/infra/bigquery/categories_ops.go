package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	var out []domain.Category
	err := s.read(ctx, `
		SELECT category_id, name, direction, embedding, created_ts
		FROM `+s.table(categoriesTable)+`
		ORDER BY name, category_id`,
		nil,
		func(it *bigquery.RowIterator) error {
			var r CategoryRow
			if err := it.Next(&r); err != nil {
				return err
			}
			out = append(out, r.toDomain())
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
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
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, `
		INSERT INTO `+s.table(categoriesTable)+` (category_id, name, direction, embedding, created_ts)
		VALUES (@category_id, @name, @direction, @embedding, @created_ts)`,
		[]bigquery.QueryParameter{
			{Name: "category_id", Value: c.ID},
			{Name: "name", Value: c.Name},
			{Name: "direction", Value: string(c.Direction)},
			{Name: "embedding", Value: toFloat64(c.Embedding)},
			{Name: "created_ts", Value: c.CreatedAt},
		})
	if err != nil {
		return fmt.Errorf("CreateCategory: %w", err)
	}
	return nil
}

func (s *Store) SetCategoryEmbedding(ctx context.Context, categoryID string, vector []float32) error {
	n, err := s.exec(ctx, `
		UPDATE `+s.table(categoriesTable)+`
		SET embedding = @embedding
		WHERE category_id = @category_id`,
		[]bigquery.QueryParameter{
			{Name: "embedding", Value: toFloat64(vector)},
			{Name: "category_id", Value: categoryID},
		})
	if err != nil {
		return fmt.Errorf("SetCategoryEmbedding: %w", err)
	}
	return requireAffected(n, "SetCategoryEmbedding", categoryID)
}
