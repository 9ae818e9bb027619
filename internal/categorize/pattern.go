package categorize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

// PatternStore is the rule storage used by phase 1.
type PatternStore interface {
	ListPatterns(ctx context.Context, direction domain.Direction, source domain.PatternSource) ([]domain.Pattern, error)
	IncrementMatchCount(ctx context.Context, patternID string) error
}

// patternPhase matches candidates against stored rules. Rules are loaded
// once per direction per batch: human rules first, then machine rules in
// confidence order. The first matching rule wins.
type patternPhase struct {
	store PatternStore
	rules map[domain.Direction][]domain.Pattern
}

func newPatternPhase(store PatternStore) *patternPhase {
	return &patternPhase{store: store, rules: make(map[domain.Direction][]domain.Pattern)}
}

func (p *patternPhase) load(ctx context.Context, dir domain.Direction) ([]domain.Pattern, error) {
	if rules, ok := p.rules[dir]; ok {
		return rules, nil
	}
	human, err := p.store.ListPatterns(ctx, dir, domain.SourceHuman)
	if err != nil {
		return nil, fmt.Errorf("load human rules: %w", err)
	}
	machine, err := p.store.ListPatterns(ctx, dir, domain.SourceMachine)
	if err != nil {
		return nil, fmt.Errorf("load machine rules: %w", err)
	}
	rules := append(human, machine...)
	p.rules[dir] = rules
	return rules, nil
}

// match returns the first rule applying to c, if any.
func (p *patternPhase) match(ctx context.Context, c *domain.Candidate) (*domain.Pattern, error) {
	rules, err := p.load(ctx, c.Direction)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		if rules[i].Matches(c.Description) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// ErrEmptyRule is returned when a rule has no text.
var ErrEmptyRule = errors.New("rule text is empty")

// RuleWriter stores rules.
type RuleWriter interface {
	CreatePattern(ctx context.Context, p *domain.Pattern) error
}

// AddRule stores a human rule for categoryID. A rule with the same text
// already present is not an error: created is false and nothing changes.
func AddRule(ctx context.Context, w RuleWriter, categoryID, text string) (p *domain.Pattern, created bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false, ErrEmptyRule
	}
	p = &domain.Pattern{
		CategoryID: categoryID,
		Text:       text,
		Source:     domain.SourceHuman,
		Confidence: 1,
	}
	if err := w.CreatePattern(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateRule) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("AddRule: %w", err)
	}
	return p, true, nil
}
