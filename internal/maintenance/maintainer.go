// Package maintenance keeps learned categorization rules healthy: it prunes
// stale, orphaned, drifted and conflicting machine rules and learns new ones
// from committed transactions. Human rules are never modified.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/store"
)

// Store is the persistence surface used by maintenance.
type Store interface {
	ListAllPatterns(ctx context.Context) ([]domain.Pattern, error)
	CreatePattern(ctx context.Context, p *domain.Pattern) error
	DeletePattern(ctx context.Context, patternID string) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error)
}

// Config tunes the passes.
type Config struct {
	// StaleAfter is the age after which a never-matched machine rule is
	// removed.
	StaleAfter time.Duration
	// DriftThreshold is the minimum share of matching transactions that must
	// still carry the rule's category.
	DriftThreshold float64
	// MinOccurrences is how many committed transactions must agree before a
	// machine rule is learned.
	MinOccurrences int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		StaleAfter:     30 * 24 * time.Hour,
		DriftThreshold: 0.40,
		MinOccurrences: 2,
	}
}

// Report summarizes one maintenance run.
type Report struct {
	Stale     int      `json:"stale_removed"`
	Orphaned  int      `json:"orphaned_removed"`
	Drifted   int      `json:"drifted_removed"`
	Conflicts int      `json:"conflicts_removed"`
	Learned   int      `json:"rules_learned"`
	Errors    []string `json:"errors,omitempty"`
}

// Maintainer runs the maintenance passes.
type Maintainer struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewMaintainer creates a Maintainer. Zero config fields take defaults.
func NewMaintainer(s Store, cfg Config) *Maintainer {
	def := DefaultConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = def.DriftThreshold
	}
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = def.MinOccurrences
	}
	return &Maintainer{store: s, cfg: cfg, now: time.Now}
}

// Run executes every pass in order. A failing pass is recorded in the report
// and the remaining passes still run.
func (m *Maintainer) Run(ctx context.Context) Report {
	log := logger.Component(ctx, "maintenance")
	var r Report

	passes := []struct {
		name  string
		run   func(context.Context) (int, error)
		count *int
	}{
		{"staleness", m.RemoveStale, &r.Stale},
		{"orphans", m.RemoveOrphans, &r.Orphaned},
		{"drift", m.RemoveDrifted, &r.Drifted},
		{"conflicts", m.ResolveConflicts, &r.Conflicts},
		{"extraction", m.ExtractRules, &r.Learned},
	}
	for _, p := range passes {
		n, err := p.run(ctx)
		*p.count = n
		if err != nil {
			log.Error().Err(err).Str("pass", p.name).Msg("maintenance pass failed")
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", p.name, err))
			continue
		}
		log.Info().Str("pass", p.name).Int("affected", n).Msg("maintenance pass finished")
	}
	return r
}

func (m *Maintainer) machineRules(ctx context.Context) ([]domain.Pattern, error) {
	all, err := m.store.ListAllPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	var out []domain.Pattern
	for _, p := range all {
		if p.Source == domain.SourceMachine {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Maintainer) delete(ctx context.Context, p domain.Pattern, reason string) error {
	if err := m.store.DeletePattern(ctx, p.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete pattern %s: %w", p.ID, err)
	}
	log := logger.Component(ctx, "maintenance")
	log.Debug().Str("pattern_id", p.ID).Str("pattern", p.Text).Str("reason", reason).Msg("machine rule removed")
	return nil
}

// RemoveStale deletes machine rules that never matched and are older than
// StaleAfter.
func (m *Maintainer) RemoveStale(ctx context.Context) (int, error) {
	rules, err := m.machineRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("RemoveStale: %w", err)
	}
	cutoff := m.now().Add(-m.cfg.StaleAfter)
	removed := 0
	for _, p := range rules {
		if p.MatchCount == 0 && p.CreatedAt.Before(cutoff) {
			if err := m.delete(ctx, p, "stale"); err != nil {
				return removed, fmt.Errorf("RemoveStale: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// RemoveOrphans deletes machine rules whose category no longer exists.
func (m *Maintainer) RemoveOrphans(ctx context.Context) (int, error) {
	rules, err := m.machineRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("RemoveOrphans: %w", err)
	}
	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("RemoveOrphans: list categories: %w", err)
	}
	exists := make(map[string]bool, len(cats))
	for _, c := range cats {
		exists[c.ID] = true
	}

	removed := 0
	for _, p := range rules {
		if !exists[p.CategoryID] {
			if err := m.delete(ctx, p, "orphaned"); err != nil {
				return removed, fmt.Errorf("RemoveOrphans: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

// RemoveDrifted re-scans committed transactions matching each machine rule
// that has matched before, and deletes the rule when fewer than
// DriftThreshold of them still carry its category. Rules with no matching
// transactions are kept.
func (m *Maintainer) RemoveDrifted(ctx context.Context) (int, error) {
	rules, err := m.machineRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("RemoveDrifted: %w", err)
	}

	removed := 0
	for _, p := range rules {
		if p.MatchCount == 0 {
			continue
		}
		share, total, err := m.agreement(ctx, p)
		if err != nil {
			return removed, fmt.Errorf("RemoveDrifted: %w", err)
		}
		if total == 0 || share >= m.cfg.DriftThreshold {
			continue
		}
		if err := m.delete(ctx, p, fmt.Sprintf("drifted (%.0f%% agreement)", share*100)); err != nil {
			return removed, fmt.Errorf("RemoveDrifted: %w", err)
		}
		removed++
	}
	return removed, nil
}

// agreement returns the share of transactions matching p that are assigned
// to p's category, and how many transactions matched.
func (m *Maintainer) agreement(ctx context.Context, p domain.Pattern) (float64, int, error) {
	txs, err := m.store.ListTransactions(ctx, store.TransactionFilter{Text: p.Text})
	if err != nil {
		return 0, 0, fmt.Errorf("list transactions for %q: %w", p.Text, err)
	}
	total, same := 0, 0
	for _, tx := range txs {
		if !p.Matches(tx.Description) {
			continue
		}
		total++
		if tx.CategoryID == p.CategoryID {
			same++
		}
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(same) / float64(total), total, nil
}

// ResolveConflicts keeps, for each pattern text shared by several machine
// rules, only the rule with the highest match count.
func (m *Maintainer) ResolveConflicts(ctx context.Context) (int, error) {
	rules, err := m.machineRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("ResolveConflicts: %w", err)
	}

	groups := make(map[string][]domain.Pattern)
	for _, p := range rules {
		key := strings.ToLower(strings.TrimSpace(p.Text))
		groups[key] = append(groups[key], p)
	}

	removed := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].MatchCount != group[j].MatchCount {
				return group[i].MatchCount > group[j].MatchCount
			}
			if group[i].Confidence != group[j].Confidence {
				return group[i].Confidence > group[j].Confidence
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		for _, loser := range group[1:] {
			if err := m.delete(ctx, loser, "conflict"); err != nil {
				return removed, fmt.Errorf("ResolveConflicts: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}
