package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-importer/internal/notionsync"
)

func (c *commands) runMaintain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("maintain", flag.ContinueOnError)
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}

	report := c.app.Maintainer.Run(ctx)
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("runMaintain: %d passes failed", len(report.Errors))
	}
	return nil
}

func (c *commands) runSyncNotion(ctx context.Context, args []string) error {
	cfg := c.app.Config
	fs := flag.NewFlagSet("sync-notion", flag.ContinueOnError)
	token := fs.String("notion-token", cfg.NotionToken, "Notion API token (default: NOTION_TOKEN)")
	databaseID := fs.String("notion-db-id", cfg.NotionTransactionsDB, "Notion database ID (default: NOTION_TRANSACTIONS_DB_ID)")
	accountID := fs.String("account", "", "export only this account")
	startDate := fs.String("start-date", "", "first date to export, YYYY-MM-DD")
	endDate := fs.String("end-date", "", "last date to export, YYYY-MM-DD")
	dryRun := fs.Bool("dry-run", false, "preview changes without writing to Notion")
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}
	if *token == "" || *databaseID == "" {
		return fmt.Errorf("%w: a Notion token and database ID are required", errUsage)
	}

	opts := notionsync.Options{
		AccountID:       *accountID,
		DefaultCurrency: cfg.Pipeline.DefaultCurrency,
		DryRun:          *dryRun,
	}
	var err error
	if opts.From, err = parseDateFlag("start-date", *startDate); err != nil {
		return err
	}
	if opts.To, err = parseDateFlag("end-date", *endDate); err != nil {
		return err
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return fmt.Errorf("%w: -end-date must not be before -start-date", errUsage)
	}

	res, err := notionsync.SyncTransactions(ctx, c.app.Store, c.newNotion(*token), *databaseID, opts)
	if err != nil {
		return fmt.Errorf("runSyncNotion: %w", err)
	}
	prefix := ""
	if *dryRun {
		prefix = "[DRY RUN] "
	}
	fmt.Fprintf(c.out, "%sCreated %d, archived %d, skipped %d, failed %d\n", prefix, res.Created, res.Archived, res.Skipped, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("runSyncNotion: %d pages failed", res.Failed)
	}
	return nil
}

func parseDateFlag(name, value string) (civil.Date, error) {
	if value == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(value)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: -%s: expected YYYY-MM-DD: %v", errUsage, name, err)
	}
	return d, nil
}
