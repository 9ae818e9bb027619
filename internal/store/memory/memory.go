// Package memory is an in-process Store for development and tests. All
// returned values are copies.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/google/uuid"
)

// Store implements store.Store in memory.
type Store struct {
	mu           sync.RWMutex
	patterns     map[string]*domain.Pattern
	categories   map[string]*domain.Category
	accounts     map[string]*domain.Account
	imports      map[string]*domain.Import
	transactions []domain.Transaction
	now          func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		patterns:   make(map[string]*domain.Pattern),
		categories: make(map[string]*domain.Category),
		accounts:   make(map[string]*domain.Account),
		imports:    make(map[string]*domain.Import),
		now:        time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Close() error { return nil }

// --- patterns ---

func (s *Store) ListPatterns(ctx context.Context, direction domain.Direction, source domain.PatternSource) ([]domain.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Pattern
	for _, p := range s.patterns {
		cat, ok := s.categories[p.CategoryID]
		if !ok || cat.Direction != direction || p.Source != source {
			continue
		}
		out = append(out, *p)
	}
	sortPatterns(out)
	return out, nil
}

func (s *Store) ListAllPatterns(ctx context.Context) ([]domain.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p)
	}
	sortPatterns(out)
	return out, nil
}

func sortPatterns(ps []domain.Pattern) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Confidence != ps[j].Confidence {
			return ps[i].Confidence > ps[j].Confidence
		}
		if ps[i].MatchCount != ps[j].MatchCount {
			return ps[i].MatchCount > ps[j].MatchCount
		}
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

func (s *Store) CreatePattern(ctx context.Context, p *domain.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.patterns {
		if existing.Source == p.Source && strings.EqualFold(existing.Text, p.Text) {
			return fmt.Errorf("CreatePattern: %q (%s): %w", p.Text, p.Source, store.ErrDuplicateRule)
		}
	}
	if _, ok := s.categories[p.CategoryID]; !ok {
		return fmt.Errorf("CreatePattern: category %s: %w", p.CategoryID, store.ErrNotFound)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	cp := *p
	s.patterns[p.ID] = &cp
	return nil
}

func (s *Store) IncrementMatchCount(ctx context.Context, patternID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[patternID]
	if !ok {
		return fmt.Errorf("IncrementMatchCount: %s: %w", patternID, store.ErrNotFound)
	}
	p.MatchCount++
	return nil
}

func (s *Store) DeletePattern(ctx context.Context, patternID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[patternID]; !ok {
		return fmt.Errorf("DeletePattern: %s: %w", patternID, store.ErrNotFound)
	}
	delete(s.patterns, patternID)
	return nil
}

// --- categories ---

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		cp := *c
		cp.Embedding = append([]float32(nil), c.Embedding...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	cp := *c
	s.categories[c.ID] = &cp
	return nil
}

// DeleteCategory removes a category. Patterns referencing it are left in
// place, as happens when a taxonomy is edited outside this service.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.categories, id)
	return nil
}

func (s *Store) SetCategoryEmbedding(ctx context.Context, categoryID string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[categoryID]
	if !ok {
		return fmt.Errorf("SetCategoryEmbedding: %s: %w", categoryID, store.ErrNotFound)
	}
	c.Embedding = append([]float32(nil), vector...)
	return nil
}

// --- accounts ---

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("GetAccount: %s: %w", id, store.ErrNotFound)
	}
	return copyAccount(a), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SaveAccount(ctx context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	s.accounts[a.ID] = copyAccount(a)
	return nil
}

func (s *Store) SaveMapping(ctx context.Context, accountID string, m domain.ColumnMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("SaveMapping: %s: %w", accountID, store.ErrNotFound)
	}
	a.Mapping = &m
	return nil
}

func copyAccount(a *domain.Account) *domain.Account {
	cp := *a
	cp.IgnorePatterns = append([]string(nil), a.IgnorePatterns...)
	if a.Mapping != nil {
		m := *a.Mapping
		cp.Mapping = &m
	}
	return &cp
}

// --- imports ---

func (s *Store) CreateImport(ctx context.Context, imp *domain.Import) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = s.now().UTC()
	}
	if imp.Status == "" {
		imp.Status = domain.ImportPending
	}
	s.imports[imp.ID] = copyImport(imp)
	return nil
}

func (s *Store) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	imp, ok := s.imports[id]
	if !ok {
		return nil, fmt.Errorf("GetImport: %s: %w", id, store.ErrNotFound)
	}
	return copyImport(imp), nil
}

func (s *Store) ListImports(ctx context.Context, f store.ImportFilter) ([]domain.Import, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Import
	for _, imp := range s.imports {
		if f.AccountID != "" && imp.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && imp.Status != f.Status {
			continue
		}
		out = append(out, *copyImport(imp))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	imp, ok := s.imports[id]
	if !ok {
		return fmt.Errorf("UpdateProgress: %s: %w", id, store.ErrNotFound)
	}
	imp.Progress = p
	return nil
}

func (s *Store) TransitionImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(imp, from)
}

func (s *Store) transitionLocked(imp *domain.Import, from domain.ImportStatus) error {
	current, ok := s.imports[imp.ID]
	if !ok {
		return fmt.Errorf("TransitionImport: %s: %w", imp.ID, store.ErrNotFound)
	}
	if current.Status != from {
		return fmt.Errorf("TransitionImport: %s is %s, expected %s: %w", imp.ID, current.Status, from, store.ErrStaleState)
	}
	s.imports[imp.ID] = copyImport(imp)
	return nil
}

func (s *Store) CommitImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transitionLocked(imp, from); err != nil {
		return err
	}
	now := s.now().UTC()
	for _, tx := range txs {
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		tx.Embedding = append([]float32(nil), tx.Embedding...)
		s.transactions = append(s.transactions, tx)
	}
	return nil
}

func copyImport(imp *domain.Import) *domain.Import {
	cp := *imp
	cp.Content = append([]byte(nil), imp.Content...)
	cp.Candidates = append([]domain.Candidate(nil), imp.Candidates...)
	cp.Warnings = append([]string(nil), imp.Warnings...)
	return &cp
}

// --- transactions ---

func (s *Store) ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(fingerprints))
	for _, fp := range fingerprints {
		want[fp] = true
	}
	out := make(map[string]bool)
	for _, tx := range s.transactions {
		if want[tx.Fingerprint] {
			out[tx.Fingerprint] = true
		}
	}
	return out, nil
}

func (s *Store) RecentEmbeddings(ctx context.Context, direction domain.Direction, limit int) ([]domain.LabeledVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LabeledVector
	for i := len(s.transactions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		tx := s.transactions[i]
		if tx.Direction != direction || tx.CategoryID == "" || len(tx.Embedding) == 0 {
			continue
		}
		out = append(out, domain.LabeledVector{
			CategoryID:  tx.CategoryID,
			Description: tx.Description,
			Vector:      append([]float32(nil), tx.Embedding...),
		})
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	text := strings.ToLower(f.Text)
	var out []domain.Transaction
	for _, tx := range s.transactions {
		if f.AccountID != "" && tx.AccountID != f.AccountID {
			continue
		}
		if f.CategorizedOnly && tx.CategoryID == "" {
			continue
		}
		if !f.From.IsZero() && tx.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.Date.After(f.To) {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(tx.Description), text) {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// AddTransactions appends committed transactions directly.
func (s *Store) AddTransactions(txs ...domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		s.transactions = append(s.transactions, tx)
	}
}
