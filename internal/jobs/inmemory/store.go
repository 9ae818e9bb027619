package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/finance-importer/internal/jobs"
)

// Store keeps job state in process memory. It is lost on restart; imports
// themselves live in the ledger store, so nothing but job history is lost.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]jobs.Job
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]jobs.Job)}
}

// SaveJob stores a snapshot of job.
func (s *Store) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job ID is required")
	}
	s.mu.Lock()
	s.jobs[job.JobID] = *job
	s.mu.Unlock()
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %s: %w", jobID, jobs.ErrNotFound)
	}
	return &job, nil
}

func (s *Store) ListJobs(ctx context.Context, f jobs.JobFilter) ([]*jobs.Job, error) {
	s.mu.RLock()
	matched := make([]*jobs.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if matches(job, f) {
			j := job
			matched = append(matched, &j)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.JobID < b.JobID
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*jobs.Job{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func matches(job jobs.Job, f jobs.JobFilter) bool {
	switch {
	case f.ImportID != "" && job.ImportID != f.ImportID:
		return false
	case f.Type != "" && job.Type != f.Type:
		return false
	case f.Status != "" && job.Status != f.Status:
		return false
	}
	return true
}

// PruneJobs drops terminal jobs completed before cutoff.
func (s *Store) PruneJobs(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			pruned++
		}
	}
	return pruned, nil
}

var _ jobs.JobStore = (*Store)(nil)
