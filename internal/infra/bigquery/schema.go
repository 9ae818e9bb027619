package bigquery

import (
	"context"
	"fmt"
	"strings"
)

var tableDDL = map[string]string{
	categoriesTable: `(
		category_id STRING NOT NULL,
		name STRING NOT NULL,
		direction STRING NOT NULL,
		embedding ARRAY<FLOAT64>,
		created_ts TIMESTAMP NOT NULL
	)`,
	patternsTable: `(
		pattern_id STRING NOT NULL,
		category_id STRING NOT NULL,
		pattern STRING NOT NULL,
		source STRING NOT NULL,
		match_count INT64 NOT NULL,
		confidence FLOAT64 NOT NULL,
		created_ts TIMESTAMP NOT NULL
	)`,
	accountsTable: `(
		account_id STRING NOT NULL,
		account_name STRING,
		account_type STRING,
		currency STRING,
		invert_sign BOOL,
		ignore_patterns ARRAY<STRING>,
		column_mapping STRING,
		created_ts TIMESTAMP NOT NULL
	)`,
	importsTable: `(
		import_id STRING NOT NULL,
		account_id STRING NOT NULL,
		filename STRING,
		content_type STRING,
		content BYTES,
		source_uri STRING,
		status STRING NOT NULL,
		candidates STRING,
		warnings ARRAY<STRING>,
		progress_current INT64,
		progress_total INT64,
		progress_label STRING,
		error_stage STRING,
		error_message STRING,
		previous_attempt_id STRING,
		created_ts TIMESTAMP NOT NULL,
		started_ts TIMESTAMP,
		completed_ts TIMESTAMP,
		committed_ts TIMESTAMP
	)`,
	transactionsTable: `(
		transaction_id STRING NOT NULL,
		account_id STRING NOT NULL,
		import_id STRING NOT NULL,
		transaction_date DATE NOT NULL,
		description STRING NOT NULL,
		amount NUMERIC NOT NULL,
		direction STRING NOT NULL,
		category_id STRING,
		fingerprint STRING NOT NULL,
		embedding ARRAY<FLOAT64>,
		created_ts TIMESTAMP NOT NULL
	)
	PARTITION BY transaction_date
	CLUSTER BY fingerprint, account_id`,
}

// schemaOrder lists tables in creation order.
var schemaOrder = []string{categoriesTable, patternsTable, accountsTable, importsTable, transactionsTable}

// EnsureSchema creates any missing table in the dataset.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, name := range schemaOrder {
		ddl := "CREATE TABLE IF NOT EXISTS " + s.table(name) + " " + strings.TrimSpace(tableDDL[name])
		if _, err := s.exec(ctx, ddl, nil); err != nil {
			return fmt.Errorf("EnsureSchema: %s: %w", name, err)
		}
	}
	return nil
}
