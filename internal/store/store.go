// Package store defines the persistence contracts shared by the SQLite and
// BigQuery backends.
package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-importer/internal/domain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateRule is returned when a pattern with the same text and
	// source already exists.
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrStaleState is returned when an import changed status between read
	// and write.
	ErrStaleState = errors.New("import status changed concurrently")
)

// TransactionFilter narrows ListTransactions. Zero values mean no filter.
type TransactionFilter struct {
	AccountID       string
	From, To        civil.Date
	CategorizedOnly bool
	// Text matches descriptions containing it, case-insensitively.
	Text  string
	Limit int
}

// ImportFilter narrows ListImports. Zero values mean no filter.
type ImportFilter struct {
	AccountID string
	Status    domain.ImportStatus
	Limit     int
}

// Patterns stores categorization rules.
type Patterns interface {
	// ListPatterns returns rules for categories of the given direction and
	// source, ordered by confidence then match count, both descending.
	ListPatterns(ctx context.Context, direction domain.Direction, source domain.PatternSource) ([]domain.Pattern, error)
	ListAllPatterns(ctx context.Context) ([]domain.Pattern, error)
	CreatePattern(ctx context.Context, p *domain.Pattern) error
	IncrementMatchCount(ctx context.Context, patternID string) error
	DeletePattern(ctx context.Context, patternID string) error
}

// Transactions stores committed transactions.
type Transactions interface {
	ExistingFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
	// RecentEmbeddings returns up to limit of the most recently committed,
	// categorized transactions of a direction that carry an embedding.
	RecentEmbeddings(ctx context.Context, direction domain.Direction, limit int) ([]domain.LabeledVector, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
}

// Categories stores the category taxonomy.
type Categories interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, c *domain.Category) error
	SetCategoryEmbedding(ctx context.Context, categoryID string, vector []float32) error
}

// Accounts stores accounts and their cached column mappings.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	SaveAccount(ctx context.Context, a *domain.Account) error
	SaveMapping(ctx context.Context, accountID string, m domain.ColumnMapping) error
}

// Imports stores import records.
type Imports interface {
	CreateImport(ctx context.Context, imp *domain.Import) error
	GetImport(ctx context.Context, id string) (*domain.Import, error)
	// ListImports returns matching imports, oldest first.
	ListImports(ctx context.Context, filter ImportFilter) ([]domain.Import, error)
	UpdateProgress(ctx context.Context, id string, p domain.Progress) error
	// TransitionImport writes imp if its stored status still equals from,
	// and returns ErrStaleState otherwise.
	TransitionImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus) error
	// CommitImport inserts txs and transitions imp from its prior status in
	// one unit of work.
	CommitImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus, txs []domain.Transaction) error
}

// Store is the full persistence surface.
type Store interface {
	Patterns
	Transactions
	Categories
	Accounts
	Imports
	Close() error
}
