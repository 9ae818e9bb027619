package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dvloznov/finance-importer/internal/categorize"
	"github.com/dvloznov/finance-importer/internal/domain"
)

func subcommand(name string, args []string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: %s needs a subcommand", errUsage, name)
	}
	return args[0], args[1:], nil
}

func (c *commands) runRules(ctx context.Context, args []string) error {
	sub, rest, err := subcommand("rules", args)
	if err != nil {
		return err
	}
	if sub != "add" {
		return fmt.Errorf("%w: unknown rules subcommand %q", errUsage, sub)
	}

	fs := flag.NewFlagSet("rules add", flag.ContinueOnError)
	categoryID := fs.String("category", "", "category ID the rule assigns (required)")
	text := fs.String("text", "", "word or phrase to match in descriptions (required)")
	if err := c.parseFlags(fs, rest); err != nil {
		return helpOr(err)
	}
	if *categoryID == "" || strings.TrimSpace(*text) == "" {
		return fmt.Errorf("%w: -category and -text are required", errUsage)
	}

	p, created, err := categorize.AddRule(ctx, c.app.Store, *categoryID, *text)
	if err != nil {
		return fmt.Errorf("runRules: %w", err)
	}
	if !created {
		fmt.Fprintf(c.out, "Rule %q already exists for %s\n", strings.TrimSpace(*text), *categoryID)
		return nil
	}
	fmt.Fprintf(c.out, "Added rule %s: %q -> %s\n", p.ID, p.Text, p.CategoryID)
	return nil
}

func (c *commands) runCategories(ctx context.Context, args []string) error {
	sub, rest, err := subcommand("categories", args)
	if err != nil {
		return err
	}
	switch sub {
	case "add":
		return c.addCategory(ctx, rest)
	case "list":
		return c.listCategories(ctx)
	case "embed":
		return c.embedCategories(ctx)
	}
	return fmt.Errorf("%w: unknown categories subcommand %q", errUsage, sub)
}

func (c *commands) addCategory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("categories add", flag.ContinueOnError)
	id := fs.String("id", "", "category ID (generated when empty)")
	name := fs.String("name", "", "display name (required)")
	direction := fs.String("direction", string(domain.DirectionExpense), "income or expense")
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}
	dir := domain.Direction(strings.ToLower(*direction))
	if *name == "" || !dir.Valid() {
		return fmt.Errorf("%w: -name and a -direction of income or expense are required", errUsage)
	}

	cat := &domain.Category{ID: *id, Name: *name, Direction: dir}
	if c.app.Oracle.EmbeddingsAvailable(ctx) {
		if vec, err := c.app.Oracle.Embed(ctx, cat.Name); err == nil {
			cat.Embedding = vec
		}
	}
	if err := c.app.Store.CreateCategory(ctx, cat); err != nil {
		return fmt.Errorf("addCategory: %w", err)
	}
	fmt.Fprintf(c.out, "Created %s category %s (%s)\n", cat.Direction, cat.ID, cat.Name)
	return nil
}

func (c *commands) listCategories(ctx context.Context) error {
	categories, err := c.app.Store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("listCategories: %w", err)
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDIRECTION\tEMBEDDED")
	for _, cat := range categories {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", cat.ID, cat.Name, cat.Direction, len(cat.Embedding) > 0)
	}
	return tw.Flush()
}

// embedCategories fills in embeddings for categories created while the
// embedding service was unavailable.
func (c *commands) embedCategories(ctx context.Context) error {
	if !c.app.Oracle.EmbeddingsAvailable(ctx) {
		return fmt.Errorf("embedCategories: embedding service is unavailable")
	}
	categories, err := c.app.Store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("embedCategories: %w", err)
	}
	embedded := 0
	for _, cat := range categories {
		if len(cat.Embedding) > 0 {
			continue
		}
		vec, err := c.app.Oracle.Embed(ctx, cat.Name)
		if err != nil {
			return fmt.Errorf("embedCategories: %s: %w", cat.ID, err)
		}
		if err := c.app.Store.SetCategoryEmbedding(ctx, cat.ID, vec); err != nil {
			return fmt.Errorf("embedCategories: %w", err)
		}
		embedded++
	}
	fmt.Fprintf(c.out, "Embedded %d categories\n", embedded)
	return nil
}

func (c *commands) runAccounts(ctx context.Context, args []string) error {
	sub, rest, err := subcommand("accounts", args)
	if err != nil {
		return err
	}
	switch sub {
	case "add":
		return c.addAccount(ctx, rest)
	case "list":
		return c.listAccounts(ctx)
	}
	return fmt.Errorf("%w: unknown accounts subcommand %q", errUsage, sub)
}

func (c *commands) addAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accounts add", flag.ContinueOnError)
	id := fs.String("id", "", "account ID (generated when empty)")
	name := fs.String("name", "", "display name (required)")
	accountType := fs.String("type", "checking", "account type, e.g. checking or credit_card")
	currency := fs.String("currency", "", "ISO currency code (default: DEFAULT_CURRENCY)")
	invert := fs.Bool("invert-sign", false, "single-column amounts use the opposite sign")
	ignore := fs.String("ignore", "", "comma-separated description fragments to skip")
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}
	if *name == "" {
		return fmt.Errorf("%w: -name is required", errUsage)
	}

	acc := &domain.Account{
		ID:         *id,
		Name:       *name,
		Type:       *accountType,
		Currency:   strings.ToUpper(*currency),
		InvertSign: *invert,
	}
	if acc.Currency == "" {
		acc.Currency = c.app.Config.Pipeline.DefaultCurrency
	}
	for _, frag := range strings.Split(*ignore, ",") {
		if frag = strings.TrimSpace(frag); frag != "" {
			acc.IgnorePatterns = append(acc.IgnorePatterns, frag)
		}
	}
	if acc.ID != "" {
		// Keep a mapping learned by earlier imports.
		if existing, err := c.app.Store.GetAccount(ctx, acc.ID); err == nil {
			acc.Mapping = existing.Mapping
			acc.CreatedAt = existing.CreatedAt
		}
	}
	if err := c.app.Store.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("addAccount: %w", err)
	}
	fmt.Fprintf(c.out, "Saved account %s (%s, %s)\n", acc.ID, acc.Name, acc.Currency)
	return nil
}

func (c *commands) listAccounts(ctx context.Context) error {
	accounts, err := c.app.Store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listAccounts: %w", err)
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tCURRENCY\tMAPPING")
	for _, acc := range accounts {
		mapping := "none"
		if acc.Mapping != nil {
			mapping = "cached"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", acc.ID, acc.Name, acc.Type, acc.Currency, mapping)
	}
	return tw.Flush()
}
