package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
)

// Memory is an in-process job store with the same versioned-update semantics
// as the Postgres store. Used by tests and local runs without a database.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]models.Job
	results map[string]models.Result // keyed by job id
}

func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]models.Job),
		results: make(map[string]models.Result),
	}
}

func (s *Memory) Create(_ context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperr.New(apperr.CodeConflict, "store.create", "job %s already exists", job.ID)
	}
	job.Version = 1
	s.jobs[job.ID] = job
	return nil
}

func (s *Memory) Get(_ context.Context, id string) (models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, apperr.New(apperr.CodeNotFound, "store.get", "job %s not found", id)
	}
	return job, nil
}

func (s *Memory) Update(_ context.Context, job models.Job) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return models.Job{}, apperr.New(apperr.CodeNotFound, "store.update", "job %s not found", job.ID)
	}
	if current.Version != job.Version {
		return models.Job{}, apperr.New(apperr.CodeConflict, "store.update", "job %s modified concurrently (version %d stale)", job.ID, job.Version)
	}
	job.Version++
	job.UpdatedAt = time.Now().UTC()
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Memory) List(_ context.Context, filter models.JobFilter) (models.JobPage, error) {
	s.mu.RLock()
	matched := make([]models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.StartDate != nil && job.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && job.CreatedAt.After(*filter.EndDate) {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return models.JobPage{
		Jobs:     matched[start:end],
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

func (s *Memory) SaveResult(_ context.Context, result models.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.JobID] = result
	return nil
}

func (s *Memory) GetResultByJob(_ context.Context, jobID string) (models.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[jobID]
	if !ok {
		return models.Result{}, apperr.New(apperr.CodeNotFound, "store.result", "no result for job %s", jobID)
	}
	return result, nil
}
