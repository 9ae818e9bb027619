package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-importer/internal/app"
	"github.com/dvloznov/finance-importer/internal/config"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/maintenance"
	"github.com/dvloznov/finance-importer/internal/notionsync"
	"github.com/dvloznov/finance-importer/internal/oracle"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/dvloznov/finance-importer/internal/store/memory"
)

// MockOracle reports every service as unavailable.
type MockOracle struct{}

func (MockOracle) InferMapping(ctx context.Context, sample string) (oracle.MappingAnswer, error) {
	return oracle.MappingAnswer{}, oracle.ErrUnavailable
}
func (MockOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, oracle.ErrUnavailable
}
func (MockOracle) EmbeddingsAvailable(ctx context.Context) bool { return false }
func (MockOracle) Classify(ctx context.Context, prompt string) (string, error) {
	return "", oracle.ErrUnavailable
}

// MockNotionService records created pages against an empty database.
type MockNotionService struct {
	Created int
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
	m.Created++
	return &notionapi.Page{ID: "page"}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return &notionapi.DatabaseQueryResponse{}, nil
}

func (m *MockNotionService) ArchivePage(ctx context.Context, pageID string) error { return nil }

const statement = "Date,Description,Amount\n2026-01-15,COOP PRONTO,-12.50\n2026-01-25,SALARY ACME,5000.00\n"

type fixture struct {
	cmd    *commands
	out    *bytes.Buffer
	store  *memory.Store
	notion *MockNotionService
	file   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.Workers = 1
	s := memory.New()
	a, err := app.New(ctx, cfg, app.Options{Store: s, Oracle: MockOracle{}})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	err = s.SaveAccount(ctx, &domain.Account{ID: "acc-1", Name: "Checking", Currency: "CHF", Mapping: &domain.ColumnMapping{
		DateColumn:        "Date",
		DescriptionColumn: "Description",
		AmountType:        domain.AmountSingle,
		AmountColumn:      "Amount",
		DateFormat:        "%Y-%m-%d",
		AmountFormat:      domain.AmountFormatPlain,
		Delimiter:         ",",
	}})
	if err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(t.TempDir(), "jan.csv")
	if err := os.WriteFile(file, []byte(statement), 0o600); err != nil {
		t.Fatal(err)
	}

	f := &fixture{out: &bytes.Buffer{}, store: s, notion: &MockNotionService{}, file: file}
	f.cmd = &commands{
		app:       a,
		out:       f.out,
		newNotion: func(string) notionsync.NotionService { return f.notion },
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) string {
	t.Helper()
	f.out.Reset()
	if err := f.cmd.run(context.Background(), args); err != nil {
		t.Fatalf("%s: %v\n%s", strings.Join(args, " "), err, f.out.String())
	}
	return f.out.String()
}

func onlyImport(t *testing.T, s *memory.Store, status domain.ImportStatus) domain.Import {
	t.Helper()
	imports, err := s.ListImports(context.Background(), store.ImportFilter{Status: status})
	if err != nil {
		t.Fatal(err)
	}
	if len(imports) != 1 {
		t.Fatalf("found %d %s imports, want 1", len(imports), status)
	}
	return imports[0]
}

func TestImportCommitAndReimport(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, "import", "-account", "acc-1", "-file", f.file)
	if !strings.Contains(out, "Status:   completed") || !strings.Contains(out, "2 candidates") {
		t.Fatalf("import output:\n%s", out)
	}
	first := onlyImport(t, f.store, domain.ImportCompleted)

	out = f.run(t, "commit", "-import", first.ID)
	if !strings.Contains(out, "Committed 2 of 2") {
		t.Errorf("commit output: %s", out)
	}

	out = f.run(t, "import", "-account", "acc-1", "-file", f.file)
	if !strings.Contains(out, "2 duplicates") {
		t.Errorf("re-import output:\n%s", out)
	}
	second := onlyImport(t, f.store, domain.ImportCompleted)

	out = f.run(t, "commit", "-import", second.ID)
	if !strings.Contains(out, "Committed 0 of 2") {
		t.Errorf("second commit output: %s", out)
	}

	out = f.run(t, "status")
	if strings.Count(out, "done") != 2 {
		t.Errorf("status listing:\n%s", out)
	}
}

func TestImportWithoutWaitStaysPending(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "import", "-account", "acc-1", "-file", f.file, "-wait=false")
	imp := onlyImport(t, f.store, domain.ImportPending)
	if !strings.Contains(out, imp.ID) {
		t.Errorf("output does not name import %s: %s", imp.ID, out)
	}

	out = f.run(t, "status", "-import", imp.ID)
	if !strings.Contains(out, "Status:   pending") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestCommitSelectedCandidates(t *testing.T) {
	f := newFixture(t)
	f.run(t, "import", "-account", "acc-1", "-file", f.file)
	imp := onlyImport(t, f.store, domain.ImportCompleted)

	out := f.run(t, "commit", "-import", imp.ID, "-candidates", imp.Candidates[1].ID)
	if !strings.Contains(out, "Committed 1 of 2") {
		t.Errorf("commit output: %s", out)
	}
	txs, err := f.store.ListTransactions(context.Background(), store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 || txs[0].Description != "SALARY ACME" {
		t.Errorf("committed = %+v", txs)
	}
}

func TestRulesAndCategories(t *testing.T) {
	f := newFixture(t)
	f.run(t, "categories", "add", "-id", "groceries", "-name", "Groceries")

	out := f.run(t, "rules", "add", "-category", "groceries", "-text", " coop ")
	if !strings.Contains(out, `"coop" -> groceries`) {
		t.Errorf("rules add output: %s", out)
	}
	out = f.run(t, "rules", "add", "-category", "groceries", "-text", "coop")
	if !strings.Contains(out, "already exists") {
		t.Errorf("duplicate rules add output: %s", out)
	}

	out = f.run(t, "categories", "list")
	if !strings.Contains(out, "Groceries") || !strings.Contains(out, "false") {
		t.Errorf("categories list:\n%s", out)
	}

	f.out.Reset()
	if err := f.cmd.run(context.Background(), []string{"categories", "embed"}); err == nil {
		t.Error("categories embed succeeded without an embedding service")
	}
}

func TestAccountsAddKeepsMapping(t *testing.T) {
	f := newFixture(t)
	f.run(t, "accounts", "add", "-id", "acc-1", "-name", "Main", "-ignore", "PAYPAL, TRANSFER")

	acc, err := f.store.GetAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Name != "Main" || acc.Mapping == nil || len(acc.IgnorePatterns) != 2 || acc.Currency != "CHF" {
		t.Errorf("account = %+v", acc)
	}

	out := f.run(t, "accounts", "list")
	if !strings.Contains(out, "cached") {
		t.Errorf("accounts list:\n%s", out)
	}
}

func TestMaintainAndSyncNotion(t *testing.T) {
	f := newFixture(t)
	f.run(t, "import", "-account", "acc-1", "-file", f.file)
	imp := onlyImport(t, f.store, domain.ImportCompleted)
	f.run(t, "commit", "-import", imp.ID)

	out := f.run(t, "maintain")
	var report maintenance.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("maintain output is not a report: %v\n%s", err, out)
	}

	out = f.run(t, "sync-notion", "-notion-token", "secret", "-notion-db-id", "db")
	if f.notion.Created != 2 || !strings.Contains(out, "Created 2") {
		t.Errorf("sync-notion created %d pages: %s", f.notion.Created, out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"import without account", []string{"import", "-file", "x.csv"}},
		{"import with file and uri", []string{"import", "-account", "acc-1", "-file", "x.csv", "-uri", "gs://b/x.csv"}},
		{"import with bad uri", []string{"import", "-account", "acc-1", "-uri", "s3://b/x.csv"}},
		{"upload without bucket", []string{"import", "-account", "acc-1", "-file", "x.csv", "-upload"}},
		{"commit without import", []string{"commit"}},
		{"rules without subcommand", []string{"rules"}},
		{"bad direction", []string{"categories", "add", "-name", "X", "-direction", "sideways"}},
		{"sync without token", []string{"sync-notion"}},
		{"sync with bad date", []string{"sync-notion", "-notion-token", "t", "-notion-db-id", "d", "-start-date", "15.01.2026"}},
		{"unknown flag", []string{"maintain", "-now"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.cmd.run(context.Background(), tt.args)
			if !errors.Is(err, errUsage) {
				t.Errorf("err = %v, want usage error", err)
			}
		})
	}
}

func TestHelpFlagIsNotAnError(t *testing.T) {
	f := newFixture(t)
	if err := f.cmd.run(context.Background(), []string{"commit", "-h"}); err != nil {
		t.Errorf("commit -h: %v", err)
	}
	if !strings.Contains(f.out.String(), "-import") {
		t.Errorf("help output: %s", f.out.String())
	}
}
