package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/jobs/inmemory"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store"
	"github.com/dvloznov/finance-importer/internal/store/memory"
)

// MockEnqueuer records enqueued work in a job store.
type MockEnqueuer struct {
	Jobs     jobs.JobStore
	Imports  []string
	Maintain int
}

func (m *MockEnqueuer) EnqueueImport(ctx context.Context, importID string) (*jobs.Job, error) {
	m.Imports = append(m.Imports, importID)
	job := &jobs.Job{JobID: "job-" + importID, Type: jobs.JobTypeProcessImport, ImportID: importID, Status: jobs.JobStatusPending}
	return job, m.Jobs.SaveJob(ctx, job)
}

func (m *MockEnqueuer) EnqueueMaintenance(ctx context.Context) (*jobs.Job, error) {
	m.Maintain++
	job := &jobs.Job{JobID: "job-maintain", Type: jobs.JobTypeMaintainPatterns, Status: jobs.JobStatusPending}
	return job, m.Jobs.SaveJob(ctx, job)
}

type fixture struct {
	store     *memory.Store
	lifecycle *pipeline.Lifecycle
	enqueuer  *MockEnqueuer
	server    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	jobStore := inmemory.NewStore()
	f := &fixture{
		store:     s,
		lifecycle: pipeline.NewLifecycle(s),
		enqueuer:  &MockEnqueuer{Jobs: jobStore},
	}
	router := NewRouter(Deps{Store: s, Lifecycle: f.lifecycle, Jobs: jobStore, Enqueuer: f.enqueuer}, logger.NewWithWriter(io.Discard))
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, out
}

// stageImport creates an import already completed with three candidates,
// the second flagged as a duplicate.
func (f *fixture) stageImport(t *testing.T) *domain.Import {
	t.Helper()
	ctx := context.Background()
	imp := &domain.Import{AccountID: "acc-1", Filename: "jan.csv", Content: []byte("x")}
	if err := f.lifecycle.Create(ctx, imp); err != nil {
		t.Fatal(err)
	}
	if _, err := f.lifecycle.Start(ctx, imp.ID); err != nil {
		t.Fatal(err)
	}
	day := civil.Date{Year: 2026, Month: 1, Day: 15}
	candidates := []domain.Candidate{
		{ID: "c1", Date: day, Description: "COOP", Amount: decimal.RequireFromString("12.50"), Direction: domain.DirectionExpense, Fingerprint: "f1"},
		{ID: "c2", Date: day, Description: "COOP", Amount: decimal.RequireFromString("12.50"), Direction: domain.DirectionExpense, Fingerprint: "f1", IsDuplicate: true},
		{ID: "c3", Date: day, Description: "SALARY", Amount: decimal.RequireFromString("5000"), Direction: domain.DirectionIncome, Fingerprint: "f3"},
	}
	if _, err := f.lifecycle.Complete(ctx, imp.ID, candidates, []string{"line 4: skipped"}); err != nil {
		t.Fatal(err)
	}
	return imp
}

func TestCreateImport(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"inline content", `{"account_id":"acc-1","filename":"jan.csv","content":"Date,Amount\n"}`, http.StatusAccepted},
		{"object storage", `{"account_id":"acc-1","source_uri":"gs://bucket/jan.csv"}`, http.StatusAccepted},
		{"missing account", `{"content":"Date,Amount\n"}`, http.StatusBadRequest},
		{"no content", `{"account_id":"acc-1"}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp, body := f.do(t, http.MethodPost, "/api/imports", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusAccepted {
				if len(f.enqueuer.Imports) != 0 {
					t.Error("rejected request was enqueued")
				}
				return
			}
			id, _ := body["import_id"].(string)
			if len(f.enqueuer.Imports) != 1 || f.enqueuer.Imports[0] != id {
				t.Errorf("enqueued %v, want [%s]", f.enqueuer.Imports, id)
			}
			imp, err := f.store.GetImport(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if imp.Status != domain.ImportPending {
				t.Errorf("status = %s, want pending", imp.Status)
			}
		})
	}
}

func TestGetImport(t *testing.T) {
	f := newFixture(t)
	imp := f.stageImport(t)

	resp, body := f.do(t, http.MethodGet, "/api/imports/"+imp.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != string(domain.ImportCompleted) {
		t.Errorf("status = %v, want completed", body["status"])
	}
	if cs, _ := body["candidates"].([]interface{}); len(cs) != 3 {
		t.Errorf("candidates = %v, want 3", body["candidates"])
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	resp, _ = f.do(t, http.MethodGet, "/api/imports/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing import status = %d, want 404", resp.StatusCode)
	}
}

func TestCommitImport(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantStatus    int
		wantCommitted float64
	}{
		{"defaults to non-duplicates", "", http.StatusOK, 2},
		{"explicit selection", `{"candidate_ids":["c2"]}`, http.StatusOK, 1},
		{"empty selection closes import", `{"candidate_ids":[]}`, http.StatusOK, 0},
		{"unknown candidate", `{"candidate_ids":["c9"]}`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			imp := f.stageImport(t)

			resp, body := f.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/commit", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if body["committed"] != tt.wantCommitted {
				t.Errorf("committed = %v, want %v", body["committed"], tt.wantCommitted)
			}
			txs, err := f.store.ListTransactions(context.Background(), store.TransactionFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if float64(len(txs)) != tt.wantCommitted {
				t.Errorf("stored %d transactions, want %v", len(txs), tt.wantCommitted)
			}

			resp, _ = f.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/commit", "")
			if resp.StatusCode != http.StatusConflict {
				t.Errorf("second commit status = %d, want 409", resp.StatusCode)
			}
		})
	}
}

func TestCommitPendingImportConflicts(t *testing.T) {
	f := newFixture(t)
	imp := &domain.Import{AccountID: "acc-1", Content: []byte("x")}
	if err := f.lifecycle.Create(context.Background(), imp); err != nil {
		t.Fatal(err)
	}
	resp, _ := f.do(t, http.MethodPost, "/api/imports/"+imp.ID+"/commit", `{"candidate_ids":[]}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateRule(t *testing.T) {
	f := newFixture(t)
	cat := &domain.Category{Name: "Groceries", Direction: domain.DirectionExpense}
	if err := f.store.CreateCategory(context.Background(), cat); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"created", `{"category_id":"` + cat.ID + `","text":"COOP"}`, http.StatusCreated},
		{"duplicate is swallowed", `{"category_id":"` + cat.ID + `","text":"coop"}`, http.StatusOK},
		{"empty text", `{"category_id":"` + cat.ID + `","text":" "}`, http.StatusBadRequest},
		{"unknown category", `{"category_id":"nope","text":"MIGROS"}`, http.StatusNotFound},
		{"missing category", `{"text":"MIGROS"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/api/rules", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestJobsAndMaintenance(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/maintenance/patterns", "")
	if resp.StatusCode != http.StatusAccepted || f.enqueuer.Maintain != 1 {
		t.Fatalf("status = %d, maintain calls = %d", resp.StatusCode, f.enqueuer.Maintain)
	}
	jobID, _ := body["job_id"].(string)

	resp, body = f.do(t, http.MethodGet, "/api/jobs?type=maintain_patterns", "")
	if resp.StatusCode != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("list jobs = %d %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodGet, "/api/jobs/"+jobID, "")
	if resp.StatusCode != http.StatusOK || body["job_id"] != jobID {
		t.Errorf("get job = %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/jobs/unknown", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown job status = %d, want 404", resp.StatusCode)
	}
}

func TestListTransactions(t *testing.T) {
	f := newFixture(t)
	f.store.AddTransactions(
		domain.Transaction{AccountID: "acc-1", Date: civil.Date{Year: 2026, Month: 1, Day: 10}, Description: "COOP", Amount: decimal.RequireFromString("3.5"), Direction: domain.DirectionExpense},
		domain.Transaction{AccountID: "acc-2", Date: civil.Date{Year: 2026, Month: 2, Day: 10}, Description: "MIGROS", Amount: decimal.RequireFromString("8"), Direction: domain.DirectionExpense},
	)

	tests := []struct {
		query      string
		wantStatus int
		wantCount  int
	}{
		{"", http.StatusOK, 2},
		{"?account_id=acc-2", http.StatusOK, 1},
		{"?start_date=2026-02-01", http.StatusOK, 1},
		{"?q=coop", http.StatusOK, 1},
		{"?start_date=02/01/2026", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := http.Get(f.server.URL + "/api/transactions" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var out []map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if len(out) != tt.wantCount {
				t.Errorf("got %d transactions, want %d", len(out), tt.wantCount)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodDelete, "/api/imports/x", "")
	if resp.StatusCode != http.StatusMethodNotAllowed || body["error"] == nil {
		t.Errorf("status = %d body = %v", resp.StatusCode, body)
	}
}
