// Package jobs defines background work items, their lifecycle and the retry
// policy shared by queues and pollers. Queue implementations live in
// subpackages.
package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrQueueClosed is returned when publishing to or starting a stopped
	// queue.
	ErrQueueClosed = errors.New("job queue is closed")
)

// JobType selects the handler for a job.
type JobType string

const (
	// JobTypeProcessImport runs an import through the pipeline.
	JobTypeProcessImport JobType = "process_import"
	// JobTypeMaintainPatterns runs the pattern maintenance passes.
	JobTypeMaintainPatterns JobType = "maintain_patterns"
)

// JobStatus is where a job is in its lifecycle.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed means attempts are exhausted or the error is not
	// retryable.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying means a failed attempt is waiting out its backoff.
	JobStatusRetrying JobStatus = "retrying"
	// JobStatusDiscarded means the job's subject is gone or already
	// handled.
	JobStatusDiscarded JobStatus = "discarded"
)

// Terminal reports whether the job will not run again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusDiscarded
}

// Job is one unit of background work. A process_import job follows its
// import across re-attempts, so ImportID may change between attempts.
type Job struct {
	JobID    string  `json:"job_id"`
	Type     JobType `json:"type"`
	ImportID string  `json:"import_id,omitempty"`

	Status  JobStatus `json:"status"`
	Attempt int       `json:"attempt"`
	Error   string    `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobHandler runs one attempt of a job. Returning an error that wraps
// ErrDiscard marks the job discarded; other errors are retried according to
// the queue's RetryPolicy.
type JobHandler func(ctx context.Context, job *Job) error

// Queue accepts jobs and runs them on background workers.
type Queue interface {
	Publish(ctx context.Context, job *Job) error
	// Start launches the workers and returns immediately.
	Start(ctx context.Context, handler JobHandler) error
	// Stop refuses new jobs and waits for in-flight attempts.
	Stop(ctx context.Context) error
}

// JobStore records job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// ListJobs returns matching jobs, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	// PruneJobs deletes terminal jobs that completed before cutoff and
	// returns how many were removed.
	PruneJobs(ctx context.Context, cutoff time.Time) (int, error)
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	ImportID string
	Type     JobType
	Status   JobStatus

	Limit  int
	Offset int
}
