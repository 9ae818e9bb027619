package notionsync

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

// NotionService is the subset of the Notion API used by the export.
type NotionService interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	ArchivePage(ctx context.Context, pageID string) error
}

// Ledger is the read side of the store the export draws from.
type Ledger interface {
	ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
}

// Options narrows an export run.
type Options struct {
	// AccountID limits the export to one account.
	AccountID string
	// From and To bound transaction dates. When either is set, pages
	// outside the ledger are left in place.
	From, To civil.Date
	// DefaultCurrency is used for accounts without a currency.
	DefaultCurrency string
	DryRun          bool
}

func (o Options) windowed() bool {
	return o.AccountID != "" || !o.From.IsZero() || !o.To.IsZero()
}

// Result counts the pages touched by an export run.
type Result struct {
	Created  int `json:"created"`
	Archived int `json:"archived"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
