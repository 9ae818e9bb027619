// Package categorize assigns categories to candidate transactions through a
// cascade: stored text rules, embedding similarity, then a language model
// choosing among a shortlist.
package categorize

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
)

// ErrCategorizationSkipped is returned when embeddings are unavailable at
// the start of a batch. No candidate is categorized in that case.
var ErrCategorizationSkipped = errors.New("categorization skipped: embeddings unavailable")

// Oracle is the model capability surface used by the cascade.
type Oracle interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbeddingsAvailable(ctx context.Context) bool
	Classifier
}

// Store is the persistence surface used by the cascade.
type Store interface {
	PatternStore
	VectorStore
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// Config tunes the cascade.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity for phase 2.
	SimilarityThreshold float64
	// WindowSize bounds how many recent transactions per direction phase 2
	// searches.
	WindowSize int
	// ShortlistSize is the number of candidate categories offered in phase 3.
	ShortlistSize int
	// FewShotExamples is the number of similar transactions shown in phase 3.
	FewShotExamples int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		WindowSize:          1000,
		ShortlistSize:       5,
		FewShotExamples:     5,
	}
}

// ProgressFunc receives progress after each candidate.
type ProgressFunc func(current, total int, label string)

// Stats counts assignments per phase.
type Stats struct {
	Pattern       int
	Embedding     int
	LLM           int
	Uncategorized int
}

// Orchestrator runs the cascade over a batch of candidates.
type Orchestrator struct {
	oracle Oracle
	store  Store
	cfg    Config
}

// NewOrchestrator creates an Orchestrator. Zero config fields take defaults.
func NewOrchestrator(o Oracle, s Store, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.ShortlistSize <= 0 {
		cfg.ShortlistSize = def.ShortlistSize
	}
	if cfg.FewShotExamples <= 0 {
		cfg.FewShotExamples = def.FewShotExamples
	}
	return &Orchestrator{oracle: o, store: s, cfg: cfg}
}

// Categorize assigns categories in place. Candidates that already carry a
// category are left alone. Oracle failures on individual candidates leave
// them uncategorized and never abort the batch; only failing to load the
// category taxonomy is returned as an error.
func (o *Orchestrator) Categorize(ctx context.Context, candidates []domain.Candidate, onProgress ProgressFunc) (Stats, error) {
	log := logger.Component(ctx, "categorize")
	var stats Stats

	if !o.oracle.EmbeddingsAvailable(ctx) {
		log.Warn().Int("candidates", len(candidates)).Msg("embeddings unavailable, skipping categorization")
		return stats, ErrCategorizationSkipped
	}

	categories, err := o.store.ListCategories(ctx)
	if err != nil {
		return stats, fmt.Errorf("Categorize: list categories: %w", err)
	}
	byID := make(map[string]domain.Category, len(categories))
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
		names[c.ID] = c.Name
	}

	rules := newPatternPhase(o.store)
	vectors := &embeddingPhase{
		store:      o.store,
		categories: categories,
		threshold:  o.cfg.SimilarityThreshold,
		window:     o.cfg.WindowSize,
		topK:       o.cfg.ShortlistSize,
		examples:   o.cfg.FewShotExamples,
		windows:    make(map[domain.Direction][]domain.LabeledVector),
	}

	for i := range candidates {
		c := &candidates[i]
		if !c.Categorized() {
			o.categorizeOne(ctx, c, rules, vectors, byID, names)
		}
		switch c.CategorizedBy {
		case domain.MethodPattern:
			stats.Pattern++
		case domain.MethodEmbedding:
			stats.Embedding++
		case domain.MethodLLM:
			stats.LLM++
		default:
			stats.Uncategorized++
		}
		if onProgress != nil {
			onProgress(i+1, len(candidates), c.Description)
		}
	}

	log.Info().
		Int("pattern", stats.Pattern).
		Int("embedding", stats.Embedding).
		Int("llm", stats.LLM).
		Int("uncategorized", stats.Uncategorized).
		Msg("categorization finished")
	return stats, nil
}

func (o *Orchestrator) categorizeOne(ctx context.Context, c *domain.Candidate, rules *patternPhase, vectors *embeddingPhase, byID map[string]domain.Category, names map[string]string) {
	log := logger.Component(ctx, "categorize").With().Str("candidate_id", c.ID).Logger()

	rule, err := rules.match(ctx, c)
	if err != nil {
		log.Warn().Err(err).Msg("pattern phase failed")
	}
	if rule != nil {
		c.Assign(rule.CategoryID, domain.MethodPattern, 1)
		c.PatternID = rule.ID
		if err := o.store.IncrementMatchCount(ctx, rule.ID); err != nil {
			log.Warn().Err(err).Str("pattern_id", rule.ID).Msg("increment match count failed")
		}
		return
	}

	vector, err := o.oracle.Embed(ctx, c.Description)
	if err != nil {
		log.Warn().Err(err).Msg("embedding failed, leaving uncategorized")
		return
	}
	c.Embedding = vector

	outcome, err := vectors.evaluate(ctx, c.Direction, vector)
	if err != nil {
		log.Warn().Err(err).Msg("embedding phase failed")
		return
	}
	if outcome.matched() {
		c.Assign(outcome.categoryID, domain.MethodEmbedding, outcome.similarity)
		return
	}
	if len(outcome.shortlist) == 0 {
		return
	}

	options := make([]domain.Category, 0, len(outcome.shortlist))
	for _, id := range outcome.shortlist {
		if cat, ok := byID[id]; ok {
			options = append(options, cat)
		}
	}
	if len(options) == 0 {
		return
	}

	answer, err := o.oracle.Classify(ctx, buildClassificationPrompt(c, options, outcome.examples, names))
	if err != nil {
		log.Warn().Err(err).Msg("classification failed, leaving uncategorized")
		return
	}
	cat, ok := matchAnswer(answer, options)
	if !ok {
		log.Info().Str("answer", answer).Msg("classification answer matched no shortlisted category")
		return
	}
	c.Assign(cat.ID, domain.MethodLLM, 0)
}
