package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/maintenance"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store"
)

// HandleJob dispatches a queued job. A process_import job whose failure
// will be retried moves to a fresh re-attempt of the failed import, since a
// failed import never runs again.
func (a *App) HandleJob(ctx context.Context, job *jobs.Job) error {
	switch job.Type {
	case jobs.JobTypeProcessImport:
		return a.handleImport(ctx, job)
	case jobs.JobTypeMaintainPatterns:
		a.pruneJobs(ctx)
		report := a.Maintainer.Run(ctx)
		if len(report.Errors) > 0 {
			return fmt.Errorf("HandleJob: maintenance: %d passes failed: %v", len(report.Errors), report.Errors)
		}
		return nil
	}
	return fmt.Errorf("HandleJob: %w: unknown job type %q", jobs.ErrDiscard, job.Type)
}

func (a *App) handleImport(ctx context.Context, job *jobs.Job) error {
	log := logger.Component(ctx, "jobs")

	err := a.Runner.Process(ctx, job.ImportID)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, pipeline.ErrInvalidTransition) {
		return fmt.Errorf("%w: %v", jobs.ErrDiscard, err)
	}
	if !a.Policy.ShouldRetry(err, job.Attempt) {
		return err
	}

	next, rerr := a.Lifecycle.Reattempt(ctx, job.ImportID)
	if rerr != nil {
		log.Error().Err(rerr).Str("import_id", job.ImportID).Msg("could not create re-attempt")
		return fmt.Errorf("%w: %v", jobs.ErrDiscard, errors.Join(err, rerr))
	}
	log.Warn().Err(err).
		Str("import_id", job.ImportID).
		Str("reattempt_id", next.ID).
		Int("attempt", job.Attempt).
		Msg("import failed, re-attempt scheduled")
	job.ImportID = next.ID
	return err
}

// pruneJobs forgets finished jobs older than the configured retention.
func (a *App) pruneJobs(ctx context.Context) {
	if a.Config.JobRetention <= 0 {
		return
	}
	log := logger.Component(ctx, "jobs")
	n, err := a.Jobs.PruneJobs(ctx, time.Now().Add(-a.Config.JobRetention))
	if err != nil {
		log.Warn().Err(err).Msg("job pruning failed")
		return
	}
	if n > 0 {
		log.Info().Int("pruned", n).Msg("pruned finished jobs")
	}
}

// EnqueueImport queues processing of a pending import.
func (a *App) EnqueueImport(ctx context.Context, importID string) (*jobs.Job, error) {
	job := &jobs.Job{Type: jobs.JobTypeProcessImport, ImportID: importID}
	if err := a.Queue.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("EnqueueImport: %w", err)
	}
	return job, nil
}

// EnqueueMaintenance queues a pattern maintenance run.
func (a *App) EnqueueMaintenance(ctx context.Context) (*jobs.Job, error) {
	job := &jobs.Job{Type: jobs.JobTypeMaintainPatterns}
	if err := a.Queue.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("EnqueueMaintenance: %w", err)
	}
	return job, nil
}

// EnqueuePending queues every pending import that has no job yet and
// returns how many were queued. Imports created by another process are
// picked up this way.
func (a *App) EnqueuePending(ctx context.Context) (int, error) {
	log := logger.Component(ctx, "jobs")

	pending, err := a.Store.ListImports(ctx, store.ImportFilter{Status: domain.ImportPending})
	if err != nil {
		return 0, fmt.Errorf("EnqueuePending: %w", err)
	}
	queued := 0
	for _, imp := range pending {
		existing, err := a.Jobs.ListJobs(ctx, jobs.JobFilter{ImportID: imp.ID, Type: jobs.JobTypeProcessImport})
		if err != nil {
			return queued, fmt.Errorf("EnqueuePending: %w", err)
		}
		if len(existing) > 0 {
			continue
		}
		job, err := a.EnqueueImport(ctx, imp.ID)
		if err != nil {
			return queued, fmt.Errorf("EnqueuePending: %w", err)
		}
		log.Info().Str("import_id", imp.ID).Str("job_id", job.JobID).Msg("queued pending import")
		queued++
	}
	return queued, nil
}

// StartWorkers begins consuming the queue.
func (a *App) StartWorkers(ctx context.Context) error {
	return a.Queue.Start(ctx, a.HandleJob)
}

// NewMaintenanceScheduler returns a scheduler that enqueues maintenance on
// the configured cron schedule. The caller starts and stops it.
func (a *App) NewMaintenanceScheduler(ctx context.Context) (*maintenance.Scheduler, error) {
	loc, err := loadLocation(a.Config.Timezone)
	if err != nil {
		return nil, err
	}
	return maintenance.NewScheduler(ctx, a.Config.MaintenanceSchedule, loc, func(ctx context.Context) error {
		_, err := a.EnqueueMaintenance(ctx)
		return err
	})
}

// NewPendingSweeper returns a scheduler that runs EnqueuePending on the
// configured sweep schedule.
func (a *App) NewPendingSweeper(ctx context.Context) (*maintenance.Scheduler, error) {
	spec := a.Config.SweepSchedule
	if spec == "" {
		spec = "@every 30s"
	}
	return maintenance.NewScheduler(ctx, spec, time.UTC, func(ctx context.Context) error {
		_, err := a.EnqueuePending(ctx)
		return err
	})
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}
