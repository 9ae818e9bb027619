package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

const patternOrder = `ORDER BY p.confidence DESC, p.match_count DESC, p.created_ts ASC, p.pattern_id ASC`

func (s *Store) listPatterns(ctx context.Context, sql string, params []bigquery.QueryParameter) ([]domain.Pattern, error) {
	var out []domain.Pattern
	err := s.read(ctx, sql, params, func(it *bigquery.RowIterator) error {
		var r PatternRow
		if err := it.Next(&r); err != nil {
			return err
		}
		out = append(out, r.toDomain())
		return nil
	})
	return out, err
}

// ListPatterns returns rules of one source for categories of a direction.
func (s *Store) ListPatterns(ctx context.Context, direction domain.Direction, source domain.PatternSource) ([]domain.Pattern, error) {
	out, err := s.listPatterns(ctx, `
		SELECT p.pattern_id, p.category_id, p.pattern, p.source, p.match_count, p.confidence, p.created_ts
		FROM `+s.table(patternsTable)+` p
		JOIN `+s.table(categoriesTable)+` c ON c.category_id = p.category_id
		WHERE c.direction = @direction AND p.source = @source
		`+patternOrder,
		[]bigquery.QueryParameter{
			{Name: "direction", Value: string(direction)},
			{Name: "source", Value: string(source)},
		})
	if err != nil {
		return nil, fmt.Errorf("ListPatterns: %w", err)
	}
	return out, nil
}

func (s *Store) ListAllPatterns(ctx context.Context) ([]domain.Pattern, error) {
	out, err := s.listPatterns(ctx, `
		SELECT p.pattern_id, p.category_id, p.pattern, p.source, p.match_count, p.confidence, p.created_ts
		FROM `+s.table(patternsTable)+` p
		`+patternOrder,
		nil)
	if err != nil {
		return nil, fmt.Errorf("ListAllPatterns: %w", err)
	}
	return out, nil
}

// CreatePattern inserts a rule unless one with the same text (ignoring
// case) and source exists, in which case it returns store.ErrDuplicateRule.
func (s *Store) CreatePattern(ctx context.Context, p *domain.Pattern) error {
	ok, err := s.exists(ctx, categoriesTable, "category_id", p.CategoryID)
	if err != nil {
		return fmt.Errorf("CreatePattern: check category: %w", err)
	}
	if !ok {
		return fmt.Errorf("CreatePattern: category %s: %w", p.CategoryID, store.ErrNotFound)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	n, err := s.exec(ctx, `
		MERGE `+s.table(patternsTable)+` t
		USING (SELECT @pattern AS pattern, @source AS source) src
		ON LOWER(t.pattern) = LOWER(src.pattern) AND t.source = src.source
		WHEN NOT MATCHED THEN
			INSERT (pattern_id, category_id, pattern, source, match_count, confidence, created_ts)
			VALUES (@pattern_id, @category_id, @pattern, @source, @match_count, @confidence, @created_ts)`,
		[]bigquery.QueryParameter{
			{Name: "pattern_id", Value: p.ID},
			{Name: "category_id", Value: p.CategoryID},
			{Name: "pattern", Value: p.Text},
			{Name: "source", Value: string(p.Source)},
			{Name: "match_count", Value: p.MatchCount},
			{Name: "confidence", Value: p.Confidence},
			{Name: "created_ts", Value: p.CreatedAt},
		})
	if err != nil {
		return fmt.Errorf("CreatePattern: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("CreatePattern: %q (%s): %w", p.Text, p.Source, store.ErrDuplicateRule)
	}
	return nil
}

func (s *Store) IncrementMatchCount(ctx context.Context, patternID string) error {
	n, err := s.exec(ctx, `
		UPDATE `+s.table(patternsTable)+`
		SET match_count = match_count + 1
		WHERE pattern_id = @pattern_id`,
		[]bigquery.QueryParameter{{Name: "pattern_id", Value: patternID}})
	if err != nil {
		return fmt.Errorf("IncrementMatchCount: %w", err)
	}
	return requireAffected(n, "IncrementMatchCount", patternID)
}

func (s *Store) DeletePattern(ctx context.Context, patternID string) error {
	n, err := s.exec(ctx, `
		DELETE FROM `+s.table(patternsTable)+`
		WHERE pattern_id = @pattern_id`,
		[]bigquery.QueryParameter{{Name: "pattern_id", Value: patternID}})
	if err != nil {
		return fmt.Errorf("DeletePattern: %w", err)
	}
	return requireAffected(n, "DeletePattern", patternID)
}
