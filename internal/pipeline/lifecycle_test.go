package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/dvloznov/finance-importer/internal/store/memory"
	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.ImportStatus
		want     bool
	}{
		{domain.ImportPending, domain.ImportProcessing, true},
		{domain.ImportProcessing, domain.ImportCompleted, true},
		{domain.ImportProcessing, domain.ImportFailed, true},
		{domain.ImportCompleted, domain.ImportDone, true},
		{domain.ImportPending, domain.ImportCompleted, false},
		{domain.ImportPending, domain.ImportDone, false},
		{domain.ImportProcessing, domain.ImportDone, false},
		{domain.ImportCompleted, domain.ImportFailed, false},
		{domain.ImportFailed, domain.ImportProcessing, false},
		{domain.ImportFailed, domain.ImportDone, false},
		{domain.ImportDone, domain.ImportProcessing, false},
		{domain.ImportDone, domain.ImportDone, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func newPending(t *testing.T, lc *Lifecycle) *domain.Import {
	t.Helper()
	imp := &domain.Import{AccountID: "acc-1", Filename: "jan.csv", Content: []byte("Date;Amount\n")}
	if err := lc.Create(context.Background(), imp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return imp
}

func candidate(id, desc string) domain.Candidate {
	return domain.Candidate{
		ID:          id,
		Date:        civil.Date{Year: 2026, Month: 1, Day: 15},
		Description: desc,
		Amount:      decimal.RequireFromString("12.50"),
		Direction:   domain.DirectionExpense,
		Fingerprint: "fp-" + id,
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	lc := NewLifecycle(s)
	imp := newPending(t, lc)

	started, err := lc.Start(ctx, imp.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != domain.ImportProcessing || started.StartedAt == nil {
		t.Fatalf("Start: status %s, started_at %v", started.Status, started.StartedAt)
	}

	cands := []domain.Candidate{candidate("row-2", "Coop"), candidate("row-3", "Migros")}
	cands[1].IsDuplicate = true
	if _, err := lc.Complete(ctx, imp.ID, cands, []string{"line 4: empty amount"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	completed, err := s.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := SelectNonDuplicates(completed); len(got) != 1 || got[0] != "row-2" {
		t.Fatalf("SelectNonDuplicates = %v, want [row-2]", got)
	}

	done, txs, err := lc.Commit(ctx, imp.ID, []string{"row-2", "row-2"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if done.Status != domain.ImportDone || done.CommittedAt == nil {
		t.Errorf("Commit: status %s", done.Status)
	}
	if len(txs) != 1 {
		t.Fatalf("committed %d transactions, want 1", len(txs))
	}
	if txs[0].ImportID != imp.ID || txs[0].AccountID != "acc-1" || txs[0].Fingerprint != "fp-row-2" {
		t.Errorf("transaction not linked to import: %+v", txs[0])
	}

	stored, err := s.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("stored %d transactions, want 1", len(stored))
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(memory.New())

	imp := newPending(t, lc)
	if _, err := lc.Complete(ctx, imp.ID, nil, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete on pending: err = %v, want ErrInvalidTransition", err)
	}
	if _, _, err := lc.Commit(ctx, imp.ID, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Commit on pending: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := lc.Start(ctx, imp.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := lc.Start(ctx, imp.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Start: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := lc.Fail(ctx, imp.ID, domain.StageRowParsing, errors.New("bad rows")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	for name, fn := range map[string]func() error{
		"start":    func() error { _, err := lc.Start(ctx, imp.ID); return err },
		"complete": func() error { _, err := lc.Complete(ctx, imp.ID, nil, nil); return err },
		"fail":     func() error { _, err := lc.Fail(ctx, imp.ID, domain.StageUnexpected, nil); return err },
		"commit":   func() error { _, _, err := lc.Commit(ctx, imp.ID, nil); return err },
	} {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on failed import: err = %v, want ErrInvalidTransition", name, err)
		}
	}
}

func TestLifecycle_CommitUnknownCandidate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	lc := NewLifecycle(s)
	imp := newPending(t, lc)
	if _, err := lc.Start(ctx, imp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := lc.Complete(ctx, imp.ID, []domain.Candidate{candidate("row-2", "Coop")}, nil); err != nil {
		t.Fatal(err)
	}

	_, _, err := lc.Commit(ctx, imp.ID, []string{"row-2", "row-99"})
	if !errors.Is(err, ErrUnknownCandidate) {
		t.Fatalf("err = %v, want ErrUnknownCandidate", err)
	}
	got, err := s.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ImportCompleted {
		t.Errorf("status = %s, want completed after rejected commit", got.Status)
	}
}

func TestLifecycle_FailRecordsStageAndTruncates(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(memory.New())
	imp := newPending(t, lc)
	if _, err := lc.Start(ctx, imp.ID); err != nil {
		t.Fatal(err)
	}

	failed, err := lc.Fail(ctx, imp.ID, domain.StageMappingAnalysis, errors.New(strings.Repeat("x", 5000)))
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.ErrorStage != domain.StageMappingAnalysis {
		t.Errorf("stage = %s", failed.ErrorStage)
	}
	if len(failed.ErrorMessage) != maxErrorMessage {
		t.Errorf("message length = %d, want %d", len(failed.ErrorMessage), maxErrorMessage)
	}
	if !failed.Status.Terminal() {
		t.Error("failed import should be terminal")
	}
}

func TestLifecycle_Reattempt(t *testing.T) {
	ctx := context.Background()
	lc := NewLifecycle(memory.New())
	imp := newPending(t, lc)

	if _, err := lc.Reattempt(ctx, imp.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Reattempt on pending: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := lc.Start(ctx, imp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := lc.Fail(ctx, imp.ID, domain.StageMappingAnalysis, errors.New("oracle unavailable")); err != nil {
		t.Fatal(err)
	}

	next, err := lc.Reattempt(ctx, imp.ID)
	if err != nil {
		t.Fatalf("Reattempt: %v", err)
	}
	if next.ID == imp.ID || next.PreviousAttemptID != imp.ID {
		t.Errorf("new attempt %s should link to %s, got %s", next.ID, imp.ID, next.PreviousAttemptID)
	}
	if next.Status != domain.ImportPending || string(next.Content) != string(imp.Content) {
		t.Errorf("new attempt: status %s, content %q", next.Status, next.Content)
	}
}

func TestLifecycle_CreateValidates(t *testing.T) {
	lc := NewLifecycle(memory.New())
	if err := lc.Create(context.Background(), &domain.Import{Content: []byte("x")}); err == nil {
		t.Error("expected error without account")
	}
	if err := lc.Create(context.Background(), &domain.Import{AccountID: "a"}); err == nil {
		t.Error("expected error without content or uri")
	}
}

func TestStageOf(t *testing.T) {
	err := stageErr(domain.StageRowParsing, errors.New("no rows"))
	wrapped := errors.Join(errors.New("outer"), err)
	if got := StageOf(wrapped); got != domain.StageRowParsing {
		t.Errorf("StageOf = %s, want row_parsing", got)
	}
	if got := StageOf(errors.New("plain")); got != domain.StageUnexpected {
		t.Errorf("StageOf(plain) = %s, want unexpected", got)
	}
}
