// Package inmemory runs jobs on goroutines fed by a buffered channel. It
// suits a single process: the API server with its embedded workers, the
// standalone worker, or a CLI run that waits for its own import.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/logger"
)

// Queue is a channel-backed jobs.Queue. Job state is mirrored into store
// after every transition so status queries see it.
type Queue struct {
	pending chan *jobs.Job
	done    chan struct{}
	store   jobs.JobStore
	policy  jobs.RetryPolicy
	workers int

	mu      sync.RWMutex
	stopped bool
	running sync.WaitGroup
}

// NewQueue creates a queue holding up to bufferSize waiting jobs, served by
// the given number of workers (at least one).
func NewQueue(bufferSize, workers int, store jobs.JobStore, policy jobs.RetryPolicy) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		pending: make(chan *jobs.Job, bufferSize),
		done:    make(chan struct{}),
		store:   store,
		policy:  policy,
		workers: workers,
	}
}

// Publish records job as pending and hands it to a worker. It blocks while
// the buffer is full.
func (q *Queue) Publish(ctx context.Context, job *jobs.Job) error {
	q.mu.RLock()
	stopped := q.stopped
	q.mu.RUnlock()
	if stopped {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = jobs.JobStatusPending
	if err := q.save(ctx, job); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}

	select {
	case q.pending <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return jobs.ErrQueueClosed
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return jobs.ErrQueueClosed
	}

	for i := 0; i < q.workers; i++ {
		q.running.Add(1)
		go func() {
			defer q.running.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case job := <-q.pending:
					q.attempt(ctx, job, handler)
				}
			}
		}()
	}
	return nil
}

// attempt runs the handler once and settles the job: completed, discarded,
// failed, or retrying with a backoff before it is published again.
func (q *Queue) attempt(ctx context.Context, job *jobs.Job, handler jobs.JobHandler) {
	log := logger.Component(ctx, "jobs").With().
		Str("job_id", job.JobID).
		Str("job_type", string(job.Type)).
		Logger()

	started := time.Now().UTC()
	job.Attempt++
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	job.CompletedAt = nil
	if err := q.save(ctx, job); err != nil {
		log.Warn().Err(err).Msg("could not record job start")
	}

	err := handler(ctx, job)

	finished := time.Now().UTC()
	job.CompletedAt = &finished
	job.Error = ""
	if err != nil {
		job.Error = err.Error()
	}

	retry := false
	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		log.Debug().Dur("duration", finished.Sub(started)).Msg("job completed")
	case errors.Is(err, jobs.ErrDiscard):
		job.Status = jobs.JobStatusDiscarded
		log.Warn().Err(err).Msg("job discarded")
	case q.policy.ShouldRetry(err, job.Attempt):
		job.Status = jobs.JobStatusRetrying
		retry = true
	default:
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Int("attempt", job.Attempt).Msg("job failed")
	}
	if serr := q.save(ctx, job); serr != nil {
		log.Warn().Err(serr).Msg("could not record job outcome")
	}
	if !retry {
		return
	}

	backoff := q.policy.Backoff(job.Attempt)
	log.Warn().Err(err).Int("attempt", job.Attempt).Dur("backoff", backoff).Msg("job failed, retrying")
	time.AfterFunc(backoff, func() {
		if perr := q.Publish(ctx, job); perr != nil {
			log.Error().Err(perr).Msg("could not re-enqueue job")
		}
	})
}

func (q *Queue) save(ctx context.Context, job *jobs.Job) error {
	if q.store == nil {
		return nil
	}
	return q.store.SaveJob(ctx, job)
}

// Stop refuses new jobs and waits for running attempts to finish or ctx to
// end. Jobs still buffered are dropped. Stop is idempotent.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.done)
	}
	q.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		q.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ jobs.Queue = (*Queue)(nil)
