package operations

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "covidseir/internal/errors"
)

// MemoryJobStore is an in-memory implementation of JobStore
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryJobStore creates a new in-memory job store
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*Job)}
}

// CreateJob stores a copy of job.
func (s *MemoryJobStore) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("job %s already exists", job.ID))
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

// GetJob retrieves a copy of a job by ID
func (s *MemoryJobStore) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("job " + id)
	}
	return job.clone(), nil
}

// UpdateJob replaces a stored job
func (s *MemoryJobStore) UpdateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return apperrors.NewNotFoundError("job " + job.ID)
	}
	s.jobs[job.ID] = job.clone()
	return nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *MemoryJobStore) ListJobs(filter JobFilter) ([]*Job, error) {
	s.mu.RLock()
	result := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Country != "" && job.Request.Country != filter.Country {
			continue
		}
		if !filter.Since.IsZero() && job.CreatedAt.Before(filter.Since) {
			continue
		}
		result = append(result, job.clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CleanupOldJobs removes finished jobs that completed before
// now-olderThan. Jobs without a completion time go by creation time.
func (s *MemoryJobStore) CleanupOldJobs(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, job := range s.jobs {
		if !job.Status.Finished() {
			continue
		}
		finished := job.CreatedAt
		if job.CompletedAt != nil {
			finished = *job.CompletedAt
		}
		if finished.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Stats counts stored jobs by status.
func (s *MemoryJobStore) Stats() map[JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[JobStatus]int{
		JobStatusPending:   0,
		JobStatusRunning:   0,
		JobStatusCompleted: 0,
		JobStatusFailed:    0,
		JobStatusCancelled: 0,
	}
	for _, job := range s.jobs {
		stats[job.Status]++
	}
	return stats
}
