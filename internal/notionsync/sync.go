// Package notionsync exports committed transactions to a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/store"
)

const (
	// BatchSize defines the number of transactions logged per progress step.
	BatchSize = 100
)

// SyncTransactions exports committed transactions to the Notion database.
// Transactions whose ID is already present as a page are skipped, so the
// export is idempotent. On an unfiltered run, pages whose transaction no
// longer exists in the ledger, or that carry no Transaction ID, are
// archived. Individual page failures are counted and logged without
// stopping the run.
func SyncTransactions(ctx context.Context, ledger Ledger, notion NotionService, databaseID string, opts Options) (Result, error) {
	log := logger.Component(ctx, "notionsync")
	var res Result

	log.Info().
		Str("account_id", opts.AccountID).
		Bool("dry_run", opts.DryRun).
		Msg("Starting transaction sync to Notion")

	transactions, err := ledger.ListTransactions(ctx, store.TransactionFilter{
		AccountID: opts.AccountID,
		From:      opts.From,
		To:        opts.To,
	})
	if err != nil {
		return res, fmt.Errorf("SyncTransactions: list transactions: %w", err)
	}
	categoryNames, err := categoryNames(ctx, ledger)
	if err != nil {
		return res, err
	}
	accounts, err := accountsByID(ctx, ledger)
	if err != nil {
		return res, err
	}

	pages, err := queryAllNotionPages(ctx, notion, databaseID)
	if err != nil {
		return res, fmt.Errorf("SyncTransactions: %w", err)
	}
	log.Info().
		Int("transaction_count", len(transactions)).
		Int("notion_page_count", len(pages)).
		Msg("Loaded ledger and Notion pages")

	existing := make(map[string]bool, len(pages))
	for _, page := range pages {
		if id := transactionID(page); id != "" {
			existing[id] = true
		}
	}

	if !opts.windowed() {
		valid := make(map[string]bool, len(transactions))
		for _, tx := range transactions {
			valid[tx.ID] = true
		}
		for _, page := range pages {
			txID := transactionID(page)
			if txID != "" && valid[txID] {
				continue
			}
			pageLog := log.With().Str("transaction_id", txID).Str("page_id", string(page.ID)).Logger()
			if opts.DryRun {
				pageLog.Info().Msg("[DRY RUN] Would archive stale Notion page")
				res.Archived++
				continue
			}
			if err := notion.ArchivePage(ctx, string(page.ID)); err != nil {
				pageLog.Warn().Err(err).Msg("Failed to archive stale Notion page")
				res.Failed++
				continue
			}
			res.Archived++
		}
	}

	for i, tx := range transactions {
		if i > 0 && i%BatchSize == 0 {
			log.Info().Int("processed", i).Int("total", len(transactions)).Msg("Sync progress")
		}
		if existing[tx.ID] {
			res.Skipped++
			continue
		}
		if opts.DryRun {
			log.Info().Str("transaction_id", tx.ID).Msg("[DRY RUN] Would create Notion page")
			res.Created++
			continue
		}

		acc := accounts[tx.AccountID]
		currency := acc.Currency
		if currency == "" {
			currency = opts.DefaultCurrency
		}
		props := TransactionProperties(tx, acc.Name, categoryNames[tx.CategoryID], currency)

		page, err := notion.CreatePage(ctx, databaseID, props)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Failed to create Notion page")
			res.Failed++
			continue
		}
		log.Debug().Str("transaction_id", tx.ID).Str("page_id", string(page.ID)).Msg("Created Notion page")
		res.Created++
	}

	log.Info().
		Int("created", res.Created).
		Int("archived", res.Archived).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Transaction sync completed")

	return res, nil
}

func categoryNames(ctx context.Context, ledger Ledger) (map[string]string, error) {
	categories, err := ledger.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: list categories: %w", err)
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}
	return names, nil
}

func accountsByID(ctx context.Context, ledger Ledger) (map[string]domain.Account, error) {
	accounts, err := ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("SyncTransactions: list accounts: %w", err)
	}
	byID := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return byID, nil
}

// queryAllNotionPages follows the cursor until every page of the database
// has been read.
func queryAllNotionPages(ctx context.Context, notion NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notion.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
