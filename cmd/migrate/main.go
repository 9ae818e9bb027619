// Command migrate manages the SQLite schema, or creates the BigQuery
// tables when -backend=bigquery.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"google.golang.org/api/option"

	"github.com/dvloznov/finance-importer/internal/config"
	bqstore "github.com/dvloznov/finance-importer/internal/infra/bigquery"
	"github.com/dvloznov/finance-importer/internal/infra/sqlite"
	"github.com/dvloznov/finance-importer/internal/logger"
)

func main() {
	log := logger.New()
	ctx := logger.WithContext(context.Background(), log)

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		backend = fs.String("backend", cfg.Backend, "Storage backend: sqlite or bigquery")
		dbPath  = fs.String("db", cfg.DatabasePath, "SQLite database path")
		project = fs.String("project", cfg.BigQueryProject, "GCP project ID (bigquery)")
		dataset = fs.String("dataset", cfg.BigQueryDataset, "BigQuery dataset ID")
		down    = fs.Bool("down", false, "Revert all SQLite migrations")
		status  = fs.Bool("status", false, "Print the applied SQLite schema version")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch *backend {
	case config.BackendSQLite:
		return migrateSQLite(ctx, *dbPath, *down, *status, out)
	case config.BackendBigQuery:
		if *project == "" {
			return fmt.Errorf("-project is required for bigquery")
		}
		var opts []option.ClientOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		s, err := bqstore.NewStore(ctx, *project, *dataset, opts...)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "BigQuery tables ready in %s.%s\n", *project, *dataset)
		return nil
	}
	return fmt.Errorf("unknown backend %q", *backend)
}

func migrateSQLite(ctx context.Context, path string, down, status bool, out io.Writer) error {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case status:
	case down:
		if err := sqlite.Rollback(ctx, db); err != nil {
			return err
		}
	default:
		if err := sqlite.Migrate(ctx, db); err != nil {
			return err
		}
	}

	version, dirty, ok, err := sqlite.Version(ctx, db)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "%s: no migrations applied\n", path)
		return nil
	}
	fmt.Fprintf(out, "%s: schema version %d", path, version)
	if dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
