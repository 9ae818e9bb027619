package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/store"
)

func TestListImports(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	seed := []domain.Import{
		{ID: "imp-c", AccountID: "acc-1", Status: domain.ImportPending, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "imp-a", AccountID: "acc-1", Status: domain.ImportPending, CreatedAt: base},
		{ID: "imp-b", AccountID: "acc-2", Status: domain.ImportFailed, CreatedAt: base.Add(time.Minute)},
	}
	for i := range seed {
		if err := s.CreateImport(ctx, &seed[i]); err != nil {
			t.Fatalf("CreateImport: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter store.ImportFilter
		want   []string
	}{
		{name: "all oldest first", want: []string{"imp-a", "imp-b", "imp-c"}},
		{name: "by status", filter: store.ImportFilter{Status: domain.ImportPending}, want: []string{"imp-a", "imp-c"}},
		{name: "by account", filter: store.ImportFilter{AccountID: "acc-2"}, want: []string{"imp-b"}},
		{name: "limit", filter: store.ImportFilter{Limit: 1}, want: []string{"imp-a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListImports(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListImports: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d imports, want %d", len(got), len(tt.want))
			}
			for i, imp := range got {
				if imp.ID != tt.want[i] {
					t.Errorf("imports[%d] = %s, want %s", i, imp.ID, tt.want[i])
				}
			}
		})
	}
}

func TestTransitionImport(t *testing.T) {
	ctx := context.Background()
	s := New()
	imp := &domain.Import{ID: "imp-1", Status: domain.ImportPending, Content: []byte("x")}
	if err := s.CreateImport(ctx, imp); err != nil {
		t.Fatal(err)
	}

	imp.Content[0] = 'y'
	got, err := s.GetImport(ctx, "imp-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Content) != "x" {
		t.Errorf("stored content mutated through caller: %q", got.Content)
	}

	got.Status = domain.ImportProcessing
	if err := s.TransitionImport(ctx, got, domain.ImportPending); err != nil {
		t.Fatalf("TransitionImport: %v", err)
	}
	if err := s.TransitionImport(ctx, got, domain.ImportPending); !errors.Is(err, store.ErrStaleState) {
		t.Errorf("repeat transition err = %v, want ErrStaleState", err)
	}
	if err := s.TransitionImport(ctx, &domain.Import{ID: "missing"}, domain.ImportPending); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing import err = %v, want ErrNotFound", err)
	}
}

func TestCommitImport(t *testing.T) {
	ctx := context.Background()
	s := New()
	imp := &domain.Import{ID: "imp-1", Status: domain.ImportCompleted}
	if err := s.CreateImport(ctx, imp); err != nil {
		t.Fatal(err)
	}

	done := *imp
	done.Status = domain.ImportDone
	txs := []domain.Transaction{
		{ID: "t1", Fingerprint: "fp-1", Direction: domain.DirectionExpense, CategoryID: "groceries", Embedding: []float32{1, 0}},
		{ID: "t2", Fingerprint: "fp-2", Direction: domain.DirectionIncome},
	}
	if err := s.CommitImport(ctx, &done, domain.ImportCompleted, txs); err != nil {
		t.Fatalf("CommitImport: %v", err)
	}
	if err := s.CommitImport(ctx, &done, domain.ImportCompleted, txs); !errors.Is(err, store.ErrStaleState) {
		t.Errorf("second commit err = %v, want ErrStaleState", err)
	}

	seen, err := s.ExistingFingerprints(ctx, []string{"fp-1", "fp-3"})
	if err != nil {
		t.Fatal(err)
	}
	if !seen["fp-1"] || seen["fp-3"] || len(seen) != 1 {
		t.Errorf("ExistingFingerprints = %v", seen)
	}

	vectors, err := s.RecentEmbeddings(ctx, domain.DirectionExpense, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 1 || vectors[0].CategoryID != "groceries" {
		t.Errorf("RecentEmbeddings = %+v", vectors)
	}

	all, err := s.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].CreatedAt.IsZero() {
		t.Errorf("ListTransactions = %+v", all)
	}
}
