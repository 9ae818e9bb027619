package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/categorize"
	"github.com/dvloznov/finance-importer/internal/csvimport"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Import        *domain.Import
	Account       *domain.Account
	Content       []byte
	Mapping       domain.ColumnMapping
	MappingReused bool
	Candidates    []domain.Candidate
	Warnings      []string
	Stats         categorize.Stats
}

// StageError tags a step failure with the stage recorded on the import.
type StageError struct {
	Stage domain.ErrorStage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage carried by err, or StageUnexpected.
func StageOf(err error) domain.ErrorStage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return domain.StageUnexpected
}

func stageErr(stage domain.ErrorStage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// FileFetcher downloads stored import files.
type FileFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// AccountReader loads accounts.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
}

// MappingResolver returns the column mapping for an account's file.
type MappingResolver interface {
	AnalyzeAndCacheMapping(ctx context.Context, account *domain.Account, content []byte) (domain.ColumnMapping, bool, error)
}

// Categorizer assigns categories to candidates in place.
type Categorizer interface {
	Categorize(ctx context.Context, candidates []domain.Candidate, onProgress categorize.ProgressFunc) (categorize.Stats, error)
}

// DuplicateMarker flags candidates already committed.
type DuplicateMarker interface {
	MarkDuplicates(ctx context.Context, candidates []domain.Candidate) error
}

// ProgressReporter persists progress of a running import.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, id string, p domain.Progress) error
}

// Step 1: FetchFileStep loads the file bytes, from the import itself or from
// object storage.
type FetchFileStep struct {
	Files FileFetcher
}

func (s *FetchFileStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Import.Content) > 0 {
		state.Content = state.Import.Content
		return nil
	}
	if state.Import.SourceURI == "" {
		return stageErr(domain.StageFileRead, errors.New("import has no content"))
	}
	if s.Files == nil {
		return stageErr(domain.StageFileRead, fmt.Errorf("no file store configured for %s", state.Import.SourceURI))
	}
	content, err := s.Files.Fetch(ctx, state.Import.SourceURI)
	if err != nil {
		return stageErr(domain.StageFileRead, err)
	}
	if len(content) == 0 {
		return stageErr(domain.StageFileRead, fmt.Errorf("%s is empty", state.Import.SourceURI))
	}
	state.Content = content
	return nil
}

// Step 2: LoadAccountStep loads the account the import belongs to.
type LoadAccountStep struct {
	Accounts AccountReader
}

func (s *LoadAccountStep) Execute(ctx context.Context, state *PipelineState) error {
	acct, err := s.Accounts.GetAccount(ctx, state.Import.AccountID)
	if err != nil {
		return stageErr(domain.StageUnexpected, fmt.Errorf("load account %s: %w", state.Import.AccountID, err))
	}
	state.Account = acct
	return nil
}

// Step 3: ResolveMappingStep reuses the account's mapping or infers a new
// one.
type ResolveMappingStep struct {
	Mapper MappingResolver
}

func (s *ResolveMappingStep) Execute(ctx context.Context, state *PipelineState) error {
	m, reused, err := s.Mapper.AnalyzeAndCacheMapping(ctx, state.Account, state.Content)
	if err != nil {
		return stageErr(domain.StageMappingAnalysis, err)
	}
	state.Mapping = m
	state.MappingReused = reused
	return nil
}

// Step 4: ParseRowsStep turns rows into candidates.
type ParseRowsStep struct {
	// InvertsSign reports whether accounts of a type store charges as
	// positive amounts.
	InvertsSign func(accountType string) bool
}

func (s *ParseRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	invert := state.Account.InvertSign
	if !invert && s.InvertsSign != nil {
		invert = s.InvertsSign(state.Account.Type)
	}
	res, err := csvimport.Parse(state.Content, state.Mapping, csvimport.AccountContext{
		IgnorePatterns: state.Account.IgnorePatterns,
		InvertSign:     invert,
	})
	if err != nil {
		return stageErr(domain.StageRowParsing, err)
	}
	state.Candidates = res.Candidates
	state.Warnings = append(state.Warnings, res.WarningStrings()...)

	log := logger.FromContext(ctx)
	log.Info().
		Int("candidates", len(res.Candidates)).
		Int("warnings", len(res.Warnings)).
		Bool("invert_sign", invert).
		Msg("rows parsed")
	return nil
}

// progressEvery is how many candidates pass between progress writes.
const progressEvery = 10

// Step 5: CategorizeStep runs the categorization phases. An unavailable
// oracle leaves the batch uncategorized with a warning.
type CategorizeStep struct {
	Categorizer Categorizer
	Progress    ProgressReporter
}

func (s *CategorizeStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	onProgress := func(current, total int, label string) {
		if s.Progress == nil || (current%progressEvery != 0 && current != total) {
			return
		}
		p := domain.Progress{Current: current, Total: total, Label: label}
		if err := s.Progress.ReportProgress(ctx, state.Import.ID, p); err != nil {
			log.Warn().Err(err).Msg("progress update failed")
		}
	}

	stats, err := s.Categorizer.Categorize(ctx, state.Candidates, onProgress)
	if errors.Is(err, categorize.ErrCategorizationSkipped) {
		state.Warnings = append(state.Warnings, "categorization skipped: embedding service unavailable")
		return nil
	}
	if err != nil {
		return stageErr(domain.StageCategorization, err)
	}
	state.Stats = stats
	return nil
}

// Step 6: MarkDuplicatesStep flags candidates matching committed
// transactions.
type MarkDuplicatesStep struct {
	Duplicates DuplicateMarker
}

func (s *MarkDuplicatesStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.Duplicates.MarkDuplicates(ctx, state.Candidates); err != nil {
		return stageErr(domain.StageUnexpected, err)
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Dependencies are the collaborators of the standard import pipeline.
type Dependencies struct {
	Files       FileFetcher
	Accounts    AccountReader
	Mapper      MappingResolver
	Categorizer Categorizer
	Duplicates  DuplicateMarker
	Progress    ProgressReporter
	InvertsSign func(accountType string) bool
}

// NewImportPipeline creates the standard six-step pipeline.
func NewImportPipeline(d Dependencies) *Pipeline {
	return NewPipeline(
		&FetchFileStep{Files: d.Files},
		&LoadAccountStep{Accounts: d.Accounts},
		&ResolveMappingStep{Mapper: d.Mapper},
		&ParseRowsStep{InvertsSign: d.InvertsSign},
		&CategorizeStep{Categorizer: d.Categorizer, Progress: d.Progress},
		&MarkDuplicatesStep{Duplicates: d.Duplicates},
	)
}
