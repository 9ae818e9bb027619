package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/notionsync"
)

var errUsage = errors.New("invalid usage")

// commands carries what every subcommand needs.
type commands struct {
	app *app.App
	out io.Writer
	// newNotion builds the Notion client for sync-notion.
	newNotion func(token string) notionsync.NotionService

	workersStarted bool
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	switch os.Args[1] {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := app.NewLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	c := &commands{
		app: a,
		out: os.Stdout,
		newNotion: func(token string) notionsync.NotionService {
			return notionsync.NewNotionClient(token)
		},
	}
	err = c.run(ctx, os.Args[1:])
	a.Close()

	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("Command failed")
	}
}

// run dispatches args[0] to its subcommand.
func (c *commands) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	rest := args[1:]
	switch args[0] {
	case "import":
		return c.runImport(ctx, rest)
	case "status":
		return c.runStatus(ctx, rest)
	case "commit":
		return c.runCommit(ctx, rest)
	case "maintain":
		return c.runMaintain(ctx, rest)
	case "rules":
		return c.runRules(ctx, rest)
	case "categories":
		return c.runCategories(ctx, rest)
	case "accounts":
		return c.runAccounts(ctx, rest)
	case "sync-notion":
		return c.runSyncNotion(ctx, rest)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Finance Importer CLI")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  cli <command> [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  import            Import a CSV statement from a local file or gs:// URI")
	fmt.Fprintln(w, "  status            Show an import and its staged candidates")
	fmt.Fprintln(w, "  commit            Commit staged candidates of a completed import")
	fmt.Fprintln(w, "  maintain          Run pattern maintenance now")
	fmt.Fprintln(w, "  rules add         Add a human categorization rule")
	fmt.Fprintln(w, "  categories add    Create a category")
	fmt.Fprintln(w, "  categories list   List categories")
	fmt.Fprintln(w, "  categories embed  Compute missing category embeddings")
	fmt.Fprintln(w, "  accounts add      Create or update an account")
	fmt.Fprintln(w, "  accounts list     List accounts")
	fmt.Fprintln(w, "  sync-notion       Export committed transactions to Notion")
	fmt.Fprintln(w, "  help              Show this help message")
	fmt.Fprintln(w, "\nRun 'cli <command> -h' for more information on a command.")
}
