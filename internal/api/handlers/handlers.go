package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/dvloznov/finance-importer/internal/api/middleware"
	"github.com/dvloznov/finance-importer/internal/categorize"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store"
)

// Enqueuer schedules background work.
type Enqueuer interface {
	EnqueueImport(ctx context.Context, importID string) (*jobs.Job, error)
	EnqueueMaintenance(ctx context.Context) (*jobs.Job, error)
}

// ImportsHandler handles import-related endpoints.
type ImportsHandler struct {
	lifecycle *pipeline.Lifecycle
	imports   store.Imports
	enqueuer  Enqueuer
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(lc *pipeline.Lifecycle, imports store.Imports, enqueuer Enqueuer) *ImportsHandler {
	return &ImportsHandler{lifecycle: lc, imports: imports, enqueuer: enqueuer}
}

type importView struct {
	ID                string              `json:"id"`
	AccountID         string              `json:"account_id"`
	Filename          string              `json:"filename"`
	SourceURI         string              `json:"source_uri,omitempty"`
	Status            domain.ImportStatus `json:"status"`
	Progress          domain.Progress     `json:"progress"`
	Candidates        []domain.Candidate  `json:"candidates"`
	Warnings          []string            `json:"warnings"`
	ErrorStage        domain.ErrorStage   `json:"error_stage,omitempty"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	PreviousAttemptID string              `json:"previous_attempt_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	StartedAt         *time.Time          `json:"started_at,omitempty"`
	CompletedAt       *time.Time          `json:"completed_at,omitempty"`
	CommittedAt       *time.Time          `json:"committed_at,omitempty"`
}

func newImportView(imp *domain.Import) importView {
	candidates := make([]domain.Candidate, len(imp.Candidates))
	for i, c := range imp.Candidates {
		c.Embedding = nil
		candidates[i] = c
	}
	warnings := imp.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return importView{
		ID:                imp.ID,
		AccountID:         imp.AccountID,
		Filename:          imp.Filename,
		SourceURI:         imp.SourceURI,
		Status:            imp.Status,
		Progress:          imp.Progress,
		Candidates:        candidates,
		Warnings:          warnings,
		ErrorStage:        imp.ErrorStage,
		ErrorMessage:      imp.ErrorMessage,
		PreviousAttemptID: imp.PreviousAttemptID,
		CreatedAt:         imp.CreatedAt,
		StartedAt:         imp.StartedAt,
		CompletedAt:       imp.CompletedAt,
		CommittedAt:       imp.CommittedAt,
	}
}

// CreateImport handles POST /api/imports
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.Component(ctx, "api")

	var req struct {
		AccountID string `json:"account_id"`
		Filename  string `json:"filename"`
		Content   string `json:"content"`
		SourceURI string `json:"source_uri"`
	}
	if err := middleware.ReadJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AccountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if req.Content == "" && req.SourceURI == "" {
		middleware.WriteError(w, http.StatusBadRequest, "content or source_uri is required")
		return
	}

	imp := &domain.Import{
		AccountID:   req.AccountID,
		Filename:    req.Filename,
		ContentType: "text/csv",
		Content:     []byte(req.Content),
		SourceURI:   req.SourceURI,
	}
	if err := h.lifecycle.Create(ctx, imp); err != nil {
		log.Error().Err(err).Msg("Failed to create import")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create import")
		return
	}

	job, err := h.enqueuer.EnqueueImport(ctx, imp.ID)
	if err != nil {
		log.Error().Err(err).Str("import_id", imp.ID).Msg("Failed to enqueue import")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("import_id", imp.ID).Msg("Import enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"import_id": imp.ID,
		"job_id":    job.JobID,
		"status":    string(imp.Status),
	})
}

// GetImport handles GET /api/imports/{id}
func (h *ImportsHandler) GetImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	imp, err := h.imports.GetImport(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "Failed to get import")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, newImportView(imp))
}

// CommitImport handles POST /api/imports/{id}/commit. Without candidate_ids
// every candidate not flagged as a duplicate is committed.
func (h *ImportsHandler) CommitImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req struct {
		CandidateIDs []string `json:"candidate_ids"`
	}
	if err := middleware.ReadJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	selected := req.CandidateIDs
	if selected == nil {
		imp, err := h.imports.GetImport(ctx, id)
		if err != nil {
			writeStoreError(w, r, err, "Failed to get import")
			return
		}
		selected = pipeline.SelectNonDuplicates(imp)
	}

	imp, txs, err := h.lifecycle.Commit(ctx, id, selected)
	if err != nil {
		writeStoreError(w, r, err, "Failed to commit import")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"import_id": imp.ID,
		"status":    imp.Status,
		"committed": len(txs),
	})
}

// writeStoreError maps lifecycle and store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, pipeline.ErrUnknownCandidate):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, store.ErrStaleState):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		log := logger.Component(r.Context(), "api")
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, msg)
	}
}

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	repo store.Transactions
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo store.Transactions) *TransactionsHandler {
	return &TransactionsHandler{repo: repo}
}

type transactionView struct {
	ID          string           `json:"id"`
	AccountID   string           `json:"account_id"`
	ImportID    string           `json:"import_id"`
	Date        civil.Date       `json:"date"`
	Description string           `json:"description"`
	Amount      string           `json:"amount"`
	Direction   domain.Direction `json:"direction"`
	CategoryID  string           `json:"category_id,omitempty"`
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.TransactionFilter{
		AccountID: query.Get("account_id"),
		Text:      query.Get("q"),
	}

	var err error
	if s := query.Get("start_date"); s != "" {
		if filter.From, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid start_date format")
			return
		}
	}
	if s := query.Get("end_date"); s != "" {
		if filter.To, err = civil.ParseDate(s); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid end_date format")
			return
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	txs, err := h.repo.ListTransactions(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, err, "Failed to query transactions")
		return
	}

	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionView{
			ID:          tx.ID,
			AccountID:   tx.AccountID,
			ImportID:    tx.ImportID,
			Date:        tx.Date,
			Description: tx.Description,
			Amount:      tx.Amount.StringFixed(2),
			Direction:   tx.Direction,
			CategoryID:  tx.CategoryID,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, out)
}

// CategoriesStore is the storage used by CategoriesHandler.
type CategoriesStore interface {
	store.Categories
	categorize.RuleWriter
}

// CategoriesHandler handles category and rule endpoints.
type CategoriesHandler struct {
	repo CategoriesStore
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(repo CategoriesStore) *CategoriesHandler {
	return &CategoriesHandler{repo: repo}
}

type categoryView struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Direction    domain.Direction `json:"direction"`
	HasEmbedding bool             `json:"has_embedding"`
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		writeStoreError(w, r, err, "Failed to list categories")
		return
	}

	out := make([]categoryView, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryView{ID: c.ID, Name: c.Name, Direction: c.Direction, HasEmbedding: len(c.Embedding) > 0})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": out,
		"count":      len(out),
	})
}

// CreateRule handles POST /api/rules. An existing rule with the same text
// is reported, not rejected.
func (h *CategoriesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CategoryID string `json:"category_id"`
		Text       string `json:"text"`
	}
	if err := middleware.ReadJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.CategoryID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "category_id is required")
		return
	}

	p, created, err := categorize.AddRule(r.Context(), h.repo, req.CategoryID, req.Text)
	if errors.Is(err, categorize.ErrEmptyRule) {
		middleware.WriteError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err != nil {
		writeStoreError(w, r, err, "Failed to create rule")
		return
	}
	if !created {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "exists"})
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":          p.ID,
		"category_id": p.CategoryID,
		"text":        p.Text,
		"status":      "created",
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store    jobs.JobStore
	enqueuer Enqueuer
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, enqueuer Enqueuer) *JobsHandler {
	return &JobsHandler{store: store, enqueuer: enqueuer}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if !errors.Is(err, jobs.ErrNotFound) {
			log := logger.Component(r.Context(), "api")
			log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		}
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		ImportID: query.Get("import_id"),
		Type:     jobs.JobType(query.Get("type")),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.Component(r.Context(), "api")
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// TriggerMaintenance handles POST /api/maintenance/patterns
func (h *JobsHandler) TriggerMaintenance(w http.ResponseWriter, r *http.Request) {
	job, err := h.enqueuer.EnqueueMaintenance(r.Context())
	if err != nil {
		log := logger.Component(r.Context(), "api")
		log.Error().Err(err).Msg("Failed to enqueue maintenance")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue maintenance")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}
