package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/finance-importer/internal/domain"
)

type ImportRow struct {
	ImportID  string `bigquery:"import_id"`  // REQUIRED
	AccountID string `bigquery:"account_id"` // REQUIRED

	Filename    bigquery.NullString `bigquery:"filename"`     // NULLABLE
	ContentType bigquery.NullString `bigquery:"content_type"` // NULLABLE
	Content     []byte              `bigquery:"content"`      // NULLABLE BYTES
	SourceURI   bigquery.NullString `bigquery:"source_uri"`   // NULLABLE

	Status     string              `bigquery:"status"`     // REQUIRED
	Candidates bigquery.NullString `bigquery:"candidates"` // NULLABLE, JSON text
	Warnings   []string            `bigquery:"warnings"`   // REPEATED STRING

	ProgressCurrent bigquery.NullInt64  `bigquery:"progress_current"`
	ProgressTotal   bigquery.NullInt64  `bigquery:"progress_total"`
	ProgressLabel   bigquery.NullString `bigquery:"progress_label"`

	ErrorStage        bigquery.NullString `bigquery:"error_stage"`
	ErrorMessage      bigquery.NullString `bigquery:"error_message"`
	PreviousAttemptID bigquery.NullString `bigquery:"previous_attempt_id"`

	CreatedTS   time.Time              `bigquery:"created_ts"`   // REQUIRED
	StartedTS   bigquery.NullTimestamp `bigquery:"started_ts"`   // NULLABLE
	CompletedTS bigquery.NullTimestamp `bigquery:"completed_ts"` // NULLABLE
	CommittedTS bigquery.NullTimestamp `bigquery:"committed_ts"` // NULLABLE
}

func importRowFrom(imp *domain.Import) (ImportRow, error) {
	row := ImportRow{
		ImportID:          imp.ID,
		AccountID:         imp.AccountID,
		Filename:          nullString(imp.Filename),
		ContentType:       nullString(imp.ContentType),
		Content:           imp.Content,
		SourceURI:         nullString(imp.SourceURI),
		Status:            string(imp.Status),
		Warnings:          imp.Warnings,
		ProgressCurrent:   bigquery.NullInt64{Int64: int64(imp.Progress.Current), Valid: true},
		ProgressTotal:     bigquery.NullInt64{Int64: int64(imp.Progress.Total), Valid: true},
		ProgressLabel:     nullString(imp.Progress.Label),
		ErrorStage:        nullString(string(imp.ErrorStage)),
		ErrorMessage:      nullString(imp.ErrorMessage),
		PreviousAttemptID: nullString(imp.PreviousAttemptID),
		CreatedTS:         imp.CreatedAt,
		StartedTS:         nullTimestamp(imp.StartedAt),
		CompletedTS:       nullTimestamp(imp.CompletedAt),
		CommittedTS:       nullTimestamp(imp.CommittedAt),
	}
	if row.Warnings == nil {
		row.Warnings = []string{}
	}
	if len(imp.Candidates) > 0 {
		b, err := json.Marshal(imp.Candidates)
		if err != nil {
			return ImportRow{}, fmt.Errorf("encode candidates: %w", err)
		}
		row.Candidates = nullString(string(b))
	}
	return row, nil
}

func (r ImportRow) toDomain() (*domain.Import, error) {
	imp := &domain.Import{
		ID:          r.ImportID,
		AccountID:   r.AccountID,
		Filename:    r.Filename.StringVal,
		ContentType: r.ContentType.StringVal,
		Content:     r.Content,
		SourceURI:   r.SourceURI.StringVal,
		Status:      domain.ImportStatus(r.Status),
		Warnings:    r.Warnings,
		Progress: domain.Progress{
			Current: int(r.ProgressCurrent.Int64),
			Total:   int(r.ProgressTotal.Int64),
			Label:   r.ProgressLabel.StringVal,
		},
		ErrorStage:        domain.ErrorStage(r.ErrorStage.StringVal),
		ErrorMessage:      r.ErrorMessage.StringVal,
		PreviousAttemptID: r.PreviousAttemptID.StringVal,
		CreatedAt:         r.CreatedTS,
		StartedAt:         timePtr(r.StartedTS),
		CompletedAt:       timePtr(r.CompletedTS),
		CommittedAt:       timePtr(r.CommittedTS),
	}
	if r.Candidates.Valid && r.Candidates.StringVal != "" {
		if err := json.Unmarshal([]byte(r.Candidates.StringVal), &imp.Candidates); err != nil {
			return nil, fmt.Errorf("import %s: decode candidates: %w", r.ImportID, err)
		}
	}
	return imp, nil
}

func nullTimestamp(t *time.Time) bigquery.NullTimestamp {
	if t == nil {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: *t, Valid: true}
}

func timePtr(ts bigquery.NullTimestamp) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Timestamp
	return &t
}
