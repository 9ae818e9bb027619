// Package pipeline runs uploaded statements through mapping, parsing,
// categorization and duplicate detection, and moves the import record
// through its lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/logger"
)

// Runner processes one import end to end.
type Runner struct {
	lifecycle *Lifecycle
	pipeline  *Pipeline
}

// NewRunner creates a Runner.
func NewRunner(lc *Lifecycle, p *Pipeline) *Runner {
	return &Runner{lifecycle: lc, pipeline: p}
}

// Process starts the import, runs the pipeline and records the outcome. The
// returned error is the pipeline failure, after the import has already been
// marked failed; callers use it to decide on retries.
func (r *Runner) Process(ctx context.Context, importID string) error {
	ctx = logger.WithContext(ctx, logger.WithFields(logger.FromContext(ctx), map[string]interface{}{"import_id": importID}))
	log := logger.Component(ctx, "pipeline")

	imp, err := r.lifecycle.Start(ctx, importID)
	if err != nil {
		return fmt.Errorf("Process: %w", err)
	}
	log.Info().Str("account_id", imp.AccountID).Str("filename", imp.Filename).Msg("import started")

	state := &PipelineState{Import: imp}
	runErr := r.pipeline.Execute(ctx, state)
	if runErr != nil {
		stage := StageOf(runErr)
		cause := runErr
		var se *StageError
		if errors.As(runErr, &se) {
			cause = se.Err
		}
		if _, err := r.lifecycle.Fail(ctx, importID, stage, cause); err != nil {
			log.Error().Err(err).Msg("failed to record import failure")
		}
		log.Error().Err(runErr).Str("stage", string(stage)).Msg("import failed")
		return fmt.Errorf("Process: %w", runErr)
	}

	if _, err := r.lifecycle.Complete(ctx, importID, state.Candidates, state.Warnings); err != nil {
		return fmt.Errorf("Process: %w", err)
	}
	log.Info().
		Int("candidates", len(state.Candidates)).
		Int("warnings", len(state.Warnings)).
		Bool("mapping_reused", state.MappingReused).
		Int("by_pattern", state.Stats.Pattern).
		Int("by_embedding", state.Stats.Embedding).
		Int("by_llm", state.Stats.LLM).
		Msg("import completed")
	return nil
}
