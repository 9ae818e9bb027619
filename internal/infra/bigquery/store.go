// Package bigquery is the BigQuery storage backend. All operations share
// one client; DML statements run as query jobs and wait for completion.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/finance-importer/internal/store"
)

const (
	categoriesTable   = "categories"
	patternsTable     = "category_patterns"
	accountsTable     = "accounts"
	importsTable      = "imports"
	transactionsTable = "transactions"
)

// Store implements store.Store on BigQuery.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

var _ store.Store = (*Store)(nil)

// NewStore creates a Store with a shared BigQuery client. Pass
// option.WithCredentialsFile to use a service account key.
func NewStore(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*Store, error) {
	if projectID == "" || datasetID == "" {
		return nil, errors.New("NewStore: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return &Store{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// table returns the fully qualified, quoted table name.
func (s *Store) table(name string) string {
	return "`" + s.projectID + "." + s.datasetID + "." + name + "`"
}

// exec runs a DML statement and returns the number of affected rows.
func (s *Store) exec(ctx context.Context, sql string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("run query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("wait for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// read runs a query and decodes every row with next.
func (s *Store) read(ctx context.Context, sql string, params []bigquery.QueryParameter, next func(it *bigquery.RowIterator) error) error {
	q := s.client.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading query: %w", err)
	}
	for {
		err := next(it)
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("iterating: %w", err)
		}
	}
}

// exists reports whether a row with the given id column value exists.
func (s *Store) exists(ctx context.Context, table, column, id string) (bool, error) {
	var found bool
	err := s.read(ctx,
		`SELECT COUNT(*) > 0 AS found FROM `+s.table(table)+` WHERE `+column+` = @id`,
		[]bigquery.QueryParameter{{Name: "id", Value: id}},
		func(it *bigquery.RowIterator) error {
			var row struct {
				Found bool `bigquery:"found"`
			}
			if err := it.Next(&row); err != nil {
				return err
			}
			found = row.Found
			return nil
		})
	return found, err
}

func requireAffected(n int64, op, id string) error {
	if n == 0 {
		return fmt.Errorf("%s: %s: %w", op, id, store.ErrNotFound)
	}
	return nil
}
