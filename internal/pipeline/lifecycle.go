package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned when an import is asked to move to a
	// status its current status does not allow.
	ErrInvalidTransition = errors.New("invalid import transition")
	// ErrUnknownCandidate is returned when a commit selects a candidate the
	// import does not hold.
	ErrUnknownCandidate = errors.New("unknown candidate")
)

// maxErrorMessage bounds the failure message stored on an import.
const maxErrorMessage = 2000

var transitions = map[domain.ImportStatus][]domain.ImportStatus{
	domain.ImportPending:    {domain.ImportProcessing},
	domain.ImportProcessing: {domain.ImportCompleted, domain.ImportFailed},
	domain.ImportCompleted:  {domain.ImportDone},
}

// CanTransition reports whether an import may move from one status to
// another.
func CanTransition(from, to domain.ImportStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Lifecycle moves imports through their states. Every write is a
// compare-and-set on the prior status, so two workers cannot both start
// the same import.
type Lifecycle struct {
	store store.Imports
	now   func() time.Time
}

// NewLifecycle creates a Lifecycle backed by s.
func NewLifecycle(s store.Imports) *Lifecycle {
	return &Lifecycle{store: s, now: time.Now}
}

// Create stores a new pending import.
func (l *Lifecycle) Create(ctx context.Context, imp *domain.Import) error {
	if imp.AccountID == "" {
		return fmt.Errorf("Create: account id is required")
	}
	if len(imp.Content) == 0 && imp.SourceURI == "" {
		return fmt.Errorf("Create: import has neither content nor source uri")
	}
	if imp.ID == "" {
		imp.ID = uuid.NewString()
	}
	imp.Status = domain.ImportPending
	if imp.CreatedAt.IsZero() {
		imp.CreatedAt = l.now().UTC()
	}
	if err := l.store.CreateImport(ctx, imp); err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (l *Lifecycle) load(ctx context.Context, id string, to domain.ImportStatus) (*domain.Import, domain.ImportStatus, error) {
	imp, err := l.store.GetImport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := imp.Status
	if !CanTransition(from, to) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return imp, from, nil
}

// Start moves a pending import to processing and resets its progress.
func (l *Lifecycle) Start(ctx context.Context, id string) (*domain.Import, error) {
	imp, from, err := l.load(ctx, id, domain.ImportProcessing)
	if err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	now := l.now().UTC()
	imp.Status = domain.ImportProcessing
	imp.Progress = domain.Progress{}
	imp.StartedAt = &now
	if err := l.store.TransitionImport(ctx, imp, from); err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	return imp, nil
}

// Complete stages candidates and warnings on a processing import.
func (l *Lifecycle) Complete(ctx context.Context, id string, candidates []domain.Candidate, warnings []string) (*domain.Import, error) {
	imp, from, err := l.load(ctx, id, domain.ImportCompleted)
	if err != nil {
		return nil, fmt.Errorf("Complete: %w", err)
	}
	now := l.now().UTC()
	imp.Status = domain.ImportCompleted
	imp.Candidates = candidates
	imp.Warnings = warnings
	imp.Progress = domain.Progress{Current: len(candidates), Total: len(candidates), Label: "done"}
	imp.CompletedAt = &now
	if err := l.store.TransitionImport(ctx, imp, from); err != nil {
		return nil, fmt.Errorf("Complete: %w", err)
	}
	return imp, nil
}

// Fail records the stage and message of a processing failure.
func (l *Lifecycle) Fail(ctx context.Context, id string, stage domain.ErrorStage, cause error) (*domain.Import, error) {
	imp, from, err := l.load(ctx, id, domain.ImportFailed)
	if err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
	}
	if stage == "" {
		stage = domain.StageUnexpected
	}
	now := l.now().UTC()
	imp.Status = domain.ImportFailed
	imp.ErrorStage = stage
	imp.ErrorMessage = msg
	imp.CompletedAt = &now
	if err := l.store.TransitionImport(ctx, imp, from); err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}
	return imp, nil
}

// Commit persists the selected candidates as transactions and marks the
// import done. Selecting nothing still closes the import.
func (l *Lifecycle) Commit(ctx context.Context, id string, selectedIDs []string) (*domain.Import, []domain.Transaction, error) {
	imp, from, err := l.load(ctx, id, domain.ImportDone)
	if err != nil {
		return nil, nil, fmt.Errorf("Commit: %w", err)
	}

	byID := make(map[string]*domain.Candidate, len(imp.Candidates))
	for i := range imp.Candidates {
		byID[imp.Candidates[i].ID] = &imp.Candidates[i]
	}

	now := l.now().UTC()
	txs := make([]domain.Transaction, 0, len(selectedIDs))
	picked := make(map[string]bool, len(selectedIDs))
	for _, cid := range selectedIDs {
		c, ok := byID[cid]
		if !ok {
			return nil, nil, fmt.Errorf("Commit: %w: %s", ErrUnknownCandidate, cid)
		}
		if picked[cid] {
			continue
		}
		picked[cid] = true
		txs = append(txs, domain.Transaction{
			ID:          uuid.NewString(),
			AccountID:   imp.AccountID,
			ImportID:    imp.ID,
			Date:        c.Date,
			Description: c.Description,
			Amount:      c.Amount,
			Direction:   c.Direction,
			CategoryID:  c.CategoryID,
			Fingerprint: c.Fingerprint,
			Embedding:   c.Embedding,
			CreatedAt:   now,
		})
	}

	imp.Status = domain.ImportDone
	imp.CommittedAt = &now
	if err := l.store.CommitImport(ctx, imp, from, txs); err != nil {
		return nil, nil, fmt.Errorf("Commit: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().Str("import_id", imp.ID).Int("committed", len(txs)).Int("staged", len(imp.Candidates)).Msg("import committed")
	return imp, txs, nil
}

// ReportProgress stores the latest progress of a processing import.
func (l *Lifecycle) ReportProgress(ctx context.Context, id string, p domain.Progress) error {
	if err := l.store.UpdateProgress(ctx, id, p); err != nil {
		return fmt.Errorf("ReportProgress: %w", err)
	}
	return nil
}

// Reattempt creates a fresh pending import from a failed one. The failed
// import is left untouched and linked from the new one.
func (l *Lifecycle) Reattempt(ctx context.Context, id string) (*domain.Import, error) {
	prev, err := l.store.GetImport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Reattempt: %w", err)
	}
	if prev.Status != domain.ImportFailed {
		return nil, fmt.Errorf("Reattempt: %w: import is %s", ErrInvalidTransition, prev.Status)
	}
	next := &domain.Import{
		AccountID:         prev.AccountID,
		Filename:          prev.Filename,
		ContentType:       prev.ContentType,
		Content:           prev.Content,
		SourceURI:         prev.SourceURI,
		PreviousAttemptID: prev.ID,
	}
	if err := l.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("Reattempt: %w", err)
	}
	return next, nil
}

// SelectNonDuplicates returns the IDs of all staged candidates not flagged
// as duplicates, in staging order.
func SelectNonDuplicates(imp *domain.Import) []string {
	ids := make([]string, 0, len(imp.Candidates))
	for _, c := range imp.Candidates {
		if !c.IsDuplicate {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
