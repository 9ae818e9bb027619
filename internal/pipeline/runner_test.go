package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dvloznov/finance-importer/internal/categorize"
	"github.com/dvloznov/finance-importer/internal/dedupe"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/mapping"
	"github.com/dvloznov/finance-importer/internal/oracle"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store/memory"
)

// MockOracle implements both the mapping and categorization oracle
// surfaces.
type MockOracle struct {
	InferMappingFunc func(ctx context.Context, sample string) (oracle.MappingAnswer, error)
	Available        bool
	ClassifyAnswer   string

	InferCalls int
}

func (m *MockOracle) InferMapping(ctx context.Context, sample string) (oracle.MappingAnswer, error) {
	m.InferCalls++
	if m.InferMappingFunc != nil {
		return m.InferMappingFunc(ctx, sample)
	}
	return oracle.MappingAnswer{}, fmt.Errorf("%w: no mapping configured", oracle.ErrUnavailable)
}

func (m *MockOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (m *MockOracle) EmbeddingsAvailable(ctx context.Context) bool { return m.Available }

func (m *MockOracle) Classify(ctx context.Context, prompt string) (string, error) {
	return m.ClassifyAnswer, nil
}

// MockFiles serves object storage reads.
type MockFiles struct {
	FetchFunc func(ctx context.Context, uri string) ([]byte, error)
}

func (m *MockFiles) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, uri)
	}
	return nil, errors.New("not found")
}

const statement = "Date;Description;Amount\n" +
	"2026-01-15;Coop Pronto;-12,50\n" +
	"2026-01-16;SBB Ticket;-8,80\n" +
	"2026-01-20;Coop City;-40,00\n"

type harness struct {
	store     *memory.Store
	oracle    *MockOracle
	files     *MockFiles
	lifecycle *pipeline.Lifecycle
	runner    *pipeline.Runner
	groceries domain.Category
}

func newHarness(t *testing.T, cached *domain.ColumnMapping) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{store: memory.New(), oracle: &MockOracle{Available: true}, files: &MockFiles{}}

	h.groceries = domain.Category{Name: "Groceries", Direction: domain.DirectionExpense}
	if err := h.store.CreateCategory(ctx, &h.groceries); err != nil {
		t.Fatal(err)
	}
	if err := h.store.CreatePattern(ctx, &domain.Pattern{CategoryID: h.groceries.ID, Text: "COOP", Source: domain.SourceHuman}); err != nil {
		t.Fatal(err)
	}
	acct := &domain.Account{ID: "acc-1", Name: "Checking", Type: "checking", Currency: "CHF", Mapping: cached}
	if err := h.store.SaveAccount(ctx, acct); err != nil {
		t.Fatal(err)
	}

	h.lifecycle = pipeline.NewLifecycle(h.store)
	p := pipeline.NewImportPipeline(pipeline.Dependencies{
		Files:       h.files,
		Accounts:    h.store,
		Mapper:      mapping.NewInferrer(h.oracle, h.store, 0),
		Categorizer: categorize.NewOrchestrator(h.oracle, h.store, categorize.DefaultConfig()),
		Duplicates:  dedupe.NewDetector(h.store),
		Progress:    h.lifecycle,
	})
	h.runner = pipeline.NewRunner(h.lifecycle, p)
	return h
}

func semicolonMapping() *domain.ColumnMapping {
	return &domain.ColumnMapping{
		DateColumn:        "Date",
		DescriptionColumn: "Description",
		AmountType:        domain.AmountSingle,
		AmountColumn:      "Amount",
		DateFormat:        "%Y-%m-%d",
		AmountFormat:      domain.AmountFormatEU,
		Delimiter:         ";",
	}
}

func (h *harness) importFile(t *testing.T, content string) *domain.Import {
	t.Helper()
	ctx := context.Background()
	imp := &domain.Import{AccountID: "acc-1", Filename: "jan.csv", Content: []byte(content)}
	if err := h.lifecycle.Create(ctx, imp); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.runner.Process(ctx, imp.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, err := h.store.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestProcess_CompletesWithCachedMapping(t *testing.T) {
	h := newHarness(t, semicolonMapping())

	imp := h.importFile(t, statement)
	if imp.Status != domain.ImportCompleted {
		t.Fatalf("status = %s, want completed (%s: %s)", imp.Status, imp.ErrorStage, imp.ErrorMessage)
	}
	if h.oracle.InferCalls != 0 {
		t.Errorf("oracle asked for a mapping %d times, want 0", h.oracle.InferCalls)
	}
	if len(imp.Candidates) != 3 {
		t.Fatalf("candidates = %d, want 3", len(imp.Candidates))
	}
	first := imp.Candidates[0]
	if first.Amount.String() != "12.5" || first.Direction != domain.DirectionExpense {
		t.Errorf("first candidate amount %s %s, want 12.5 expense", first.Amount, first.Direction)
	}
	if first.CategoryID != h.groceries.ID || first.CategorizedBy != domain.MethodPattern {
		t.Errorf("first candidate category %q by %s, want groceries by pattern", first.CategoryID, first.CategorizedBy)
	}
	for _, c := range imp.Candidates {
		if c.IsDuplicate {
			t.Errorf("%s flagged duplicate on first import", c.ID)
		}
		if c.Fingerprint == "" {
			t.Errorf("%s has no fingerprint", c.ID)
		}
	}
	if imp.Progress.Current != 3 || imp.Progress.Total != 3 {
		t.Errorf("progress = %+v, want 3/3", imp.Progress)
	}
}

func TestProcess_ReimportFlagsDuplicates(t *testing.T) {
	h := newHarness(t, semicolonMapping())
	ctx := context.Background()

	first := h.importFile(t, statement)
	if _, _, err := h.lifecycle.Commit(ctx, first.ID, pipeline.SelectNonDuplicates(first)); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	second := h.importFile(t, statement+"2026-01-21;Migros;-5,00\n")
	if second.Status != domain.ImportCompleted {
		t.Fatalf("status = %s", second.Status)
	}
	dups := 0
	for _, c := range second.Candidates {
		if c.IsDuplicate {
			dups++
		}
	}
	if dups != 3 {
		t.Errorf("duplicates = %d, want 3", dups)
	}
	if got := pipeline.SelectNonDuplicates(second); len(got) != 1 {
		t.Errorf("selectable = %v, want only the new row", got)
	}
}

func TestProcess_SkippedCategorizationIsAWarning(t *testing.T) {
	h := newHarness(t, semicolonMapping())
	h.oracle.Available = false

	imp := h.importFile(t, statement)
	if imp.Status != domain.ImportCompleted {
		t.Fatalf("status = %s", imp.Status)
	}
	for _, c := range imp.Candidates {
		if c.Categorized() {
			t.Errorf("%s categorized while embeddings unavailable", c.ID)
		}
	}
	if len(imp.Warnings) != 1 {
		t.Errorf("warnings = %v, want one skip warning", imp.Warnings)
	}
}

func TestProcess_InfersMappingWhenNoneCached(t *testing.T) {
	h := newHarness(t, nil)
	h.oracle.InferMappingFunc = func(ctx context.Context, sample string) (oracle.MappingAnswer, error) {
		return oracle.MappingAnswer{
			DateColumn:        "Date",
			DescriptionColumn: "Description",
			AmountType:        "single",
			AmountColumn:      "Amount",
			DateFormat:        "%Y-%m-%d",
			AmountFormat:      "eu",
		}, nil
	}

	imp := h.importFile(t, statement)
	if imp.Status != domain.ImportCompleted {
		t.Fatalf("status = %s (%s)", imp.Status, imp.ErrorMessage)
	}
	acct, err := h.store.GetAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if acct.Mapping == nil || acct.Mapping.AmountColumn != "Amount" {
		t.Errorf("mapping not cached on account: %+v", acct.Mapping)
	}
}

func TestProcess_FailureStages(t *testing.T) {
	tests := []struct {
		name      string
		imp       domain.Import
		mapping   *domain.ColumnMapping
		wantStage domain.ErrorStage
		wantIs    error
	}{
		{
			name:      "unreadable stored file",
			imp:       domain.Import{AccountID: "acc-1", SourceURI: "gs://imports/missing.csv"},
			mapping:   semicolonMapping(),
			wantStage: domain.StageFileRead,
		},
		{
			name:      "oracle unavailable during mapping analysis",
			imp:       domain.Import{AccountID: "acc-1", Content: []byte("Buchung,Text,Betrag\n01.02.2026,Coop,1.00\n")},
			mapping:   nil,
			wantStage: domain.StageMappingAnalysis,
			wantIs:    oracle.ErrUnavailable,
		},
		{
			name:      "no parseable rows",
			imp:       domain.Import{AccountID: "acc-1", Content: []byte("Date;Description;Amount\nsoon;Coop;abc\n")},
			mapping:   semicolonMapping(),
			wantStage: domain.StageRowParsing,
		},
		{
			name:      "unknown account",
			imp:       domain.Import{AccountID: "acc-404", Content: []byte(statement)},
			mapping:   semicolonMapping(),
			wantStage: domain.StageUnexpected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mapping)
			ctx := context.Background()
			imp := tt.imp
			if err := h.lifecycle.Create(ctx, &imp); err != nil {
				t.Fatal(err)
			}

			err := h.runner.Process(ctx, imp.ID)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("err = %v, want %v", err, tt.wantIs)
			}

			got, gerr := h.store.GetImport(ctx, imp.ID)
			if gerr != nil {
				t.Fatal(gerr)
			}
			if got.Status != domain.ImportFailed {
				t.Errorf("status = %s, want failed", got.Status)
			}
			if got.ErrorStage != tt.wantStage {
				t.Errorf("stage = %s, want %s", got.ErrorStage, tt.wantStage)
			}
			if got.ErrorMessage == "" {
				t.Error("error message not recorded")
			}
		})
	}
}

func TestProcess_FetchesStoredFile(t *testing.T) {
	h := newHarness(t, semicolonMapping())
	h.files.FetchFunc = func(ctx context.Context, uri string) ([]byte, error) {
		if uri != "gs://imports/jan.csv" {
			return nil, fmt.Errorf("unexpected uri %s", uri)
		}
		return []byte(statement), nil
	}
	ctx := context.Background()
	imp := &domain.Import{AccountID: "acc-1", SourceURI: "gs://imports/jan.csv"}
	if err := h.lifecycle.Create(ctx, imp); err != nil {
		t.Fatal(err)
	}
	if err := h.runner.Process(ctx, imp.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got, err := h.store.GetImport(ctx, imp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Candidates) != 3 {
		t.Errorf("candidates = %d, want 3", len(got.Candidates))
	}
}

func TestProcess_MissingImport(t *testing.T) {
	h := newHarness(t, semicolonMapping())
	if err := h.runner.Process(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing import")
	}
}
