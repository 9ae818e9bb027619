package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/store"
)

const importColumns = `import_id, account_id, filename, content_type, content, source_uri, status,
	candidates, warnings, progress_current, progress_total, progress_label,
	error_stage, error_message, previous_attempt_id,
	created_ts, started_ts, completed_ts, committed_ts`

func (s *Store) CreateImport(ctx context.Context, imp *domain.Import) error {
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = time.Now().UTC()
	}
	if imp.Status == "" {
		imp.Status = domain.ImportPending
	}
	row, err := importRowFrom(imp)
	if err != nil {
		return fmt.Errorf("CreateImport: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO `+s.table(importsTable)+` (`+importColumns+`)
		VALUES (@import_id, @account_id, @filename, @content_type, @content, @source_uri, @status,
			@candidates, @warnings, @progress_current, @progress_total, @progress_label,
			@error_stage, @error_message, @previous_attempt_id,
			@created_ts, @started_ts, @completed_ts, @committed_ts)`,
		importParams(row))
	if err != nil {
		return fmt.Errorf("CreateImport: %w", err)
	}
	return nil
}

func (s *Store) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	var found *domain.Import
	err := s.read(ctx, `
		SELECT `+importColumns+`
		FROM `+s.table(importsTable)+`
		WHERE import_id = @import_id`,
		[]bigquery.QueryParameter{{Name: "import_id", Value: id}},
		func(it *bigquery.RowIterator) error {
			var r ImportRow
			if err := it.Next(&r); err != nil {
				return err
			}
			imp, err := r.toDomain()
			if err != nil {
				return err
			}
			found = imp
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("GetImport: %w", err)
	}
	if found == nil {
		return nil, fmt.Errorf("GetImport: %s: %w", id, store.ErrNotFound)
	}
	return found, nil
}

// importQuery builds the filtered listing statement.
func (s *Store) importQuery(f store.ImportFilter) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if f.AccountID != "" {
		where = append(where, "account_id = @account_id")
		params = append(params, bigquery.QueryParameter{Name: "account_id", Value: f.AccountID})
	}
	if f.Status != "" {
		where = append(where, "status = @status")
		params = append(params, bigquery.QueryParameter{Name: "status", Value: string(f.Status)})
	}

	sql := `SELECT ` + importColumns + ` FROM ` + s.table(importsTable)
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_ts, import_id`
	if f.Limit > 0 {
		sql += ` LIMIT @limit`
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: f.Limit})
	}
	return sql, params
}

// ListImports returns matching imports, oldest first.
func (s *Store) ListImports(ctx context.Context, f store.ImportFilter) ([]domain.Import, error) {
	sql, params := s.importQuery(f)

	var out []domain.Import
	err := s.read(ctx, sql, params, func(it *bigquery.RowIterator) error {
		var r ImportRow
		if err := it.Next(&r); err != nil {
			return err
		}
		imp, err := r.toDomain()
		if err != nil {
			return err
		}
		out = append(out, *imp)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ListImports: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, p domain.Progress) error {
	n, err := s.exec(ctx, `
		UPDATE `+s.table(importsTable)+`
		SET progress_current = @current, progress_total = @total, progress_label = @label
		WHERE import_id = @import_id`,
		[]bigquery.QueryParameter{
			{Name: "current", Value: p.Current},
			{Name: "total", Value: p.Total},
			{Name: "label", Value: p.Label},
			{Name: "import_id", Value: id},
		})
	if err != nil {
		return fmt.Errorf("UpdateProgress: %w", err)
	}
	return requireAffected(n, "UpdateProgress", id)
}

// TransitionImport writes imp only while the stored status still equals
// from.
func (s *Store) TransitionImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus) error {
	if err := s.transition(ctx, imp, from); err != nil {
		return fmt.Errorf("TransitionImport: %w", err)
	}
	return nil
}

// CommitImport transitions imp first so a concurrent commit cannot insert
// twice, then streams the transactions. BigQuery has no transaction
// spanning both, so an insert failure leaves the import done without rows
// and is reported to the caller.
func (s *Store) CommitImport(ctx context.Context, imp *domain.Import, from domain.ImportStatus, txs []domain.Transaction) error {
	if err := s.transition(ctx, imp, from); err != nil {
		return fmt.Errorf("CommitImport: %w", err)
	}
	for i := range txs {
		if txs[i].ID == "" {
			txs[i].ID = uuid.NewString()
		}
		if txs[i].CreatedAt.IsZero() {
			txs[i].CreatedAt = time.Now().UTC()
		}
	}
	if err := s.insertTransactions(ctx, txs); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("import_id", imp.ID).
			Int("transactions", len(txs)).
			Msg("import marked done but transaction insert failed")
		return fmt.Errorf("CommitImport: %w", err)
	}
	return nil
}

func (s *Store) transition(ctx context.Context, imp *domain.Import, from domain.ImportStatus) error {
	row, err := importRowFrom(imp)
	if err != nil {
		return err
	}
	params := pickParams(importParams(row),
		"import_id", "status", "candidates", "warnings",
		"progress_current", "progress_total", "progress_label",
		"error_stage", "error_message", "started_ts", "completed_ts", "committed_ts")
	params = append(params, bigquery.QueryParameter{Name: "from_status", Value: string(from)})

	n, err := s.exec(ctx, `
		UPDATE `+s.table(importsTable)+` SET
			status = @status, candidates = @candidates, warnings = @warnings,
			progress_current = @progress_current, progress_total = @progress_total, progress_label = @progress_label,
			error_stage = @error_stage, error_message = @error_message,
			started_ts = @started_ts, completed_ts = @completed_ts, committed_ts = @committed_ts
		WHERE import_id = @import_id AND status = @from_status`,
		params)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	ok, err := s.exists(ctx, importsTable, "import_id", imp.ID)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", imp.ID, store.ErrNotFound)
	}
	return fmt.Errorf("%s: expected %s: %w", imp.ID, from, store.ErrStaleState)
}

// pickParams keeps the named parameters, in the order given.
func pickParams(all []bigquery.QueryParameter, names ...string) []bigquery.QueryParameter {
	byName := make(map[string]bigquery.QueryParameter, len(all))
	for _, p := range all {
		byName[p.Name] = p
	}
	out := make([]bigquery.QueryParameter, 0, len(names))
	for _, n := range names {
		if p, ok := byName[n]; ok {
			out = append(out, p)
		}
	}
	return out
}

func importParams(r ImportRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "import_id", Value: r.ImportID},
		{Name: "account_id", Value: r.AccountID},
		{Name: "filename", Value: r.Filename},
		{Name: "content_type", Value: r.ContentType},
		{Name: "content", Value: r.Content},
		{Name: "source_uri", Value: r.SourceURI},
		{Name: "status", Value: r.Status},
		{Name: "candidates", Value: r.Candidates},
		{Name: "warnings", Value: r.Warnings},
		{Name: "progress_current", Value: r.ProgressCurrent},
		{Name: "progress_total", Value: r.ProgressTotal},
		{Name: "progress_label", Value: r.ProgressLabel},
		{Name: "error_stage", Value: r.ErrorStage},
		{Name: "error_message", Value: r.ErrorMessage},
		{Name: "previous_attempt_id", Value: r.PreviousAttemptID},
		{Name: "created_ts", Value: r.CreatedTS},
		{Name: "started_ts", Value: r.StartedTS},
		{Name: "completed_ts", Value: r.CompletedTS},
		{Name: "committed_ts", Value: r.CommittedTS},
	}
}
