// Package service is the public-facing orchestration layer: job submission,
// lookup, cancellation, and the execution entry point that drives a job
// through collection and the data pipeline.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/collect"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/pipeline"
	"scrape-orchestrator/internal/resilience"
	"scrape-orchestrator/internal/schedule"
	"scrape-orchestrator/internal/telemetry"
)

// Policy bounds for per-job rate limit configuration.
const (
	maxRateLimitRequests = 1000
	maxRateLimitPeriod   = int64(time.Hour / time.Millisecond)
	maxPageSize          = 100
	defaultPageSize      = 20
)

// JobStore is the persistence contract for jobs and their results. Update is
// versioned: a stale write is rejected so concurrent conflicting transitions
// cannot both succeed.
type JobStore interface {
	Create(ctx context.Context, job models.Job) error
	Get(ctx context.Context, id string) (models.Job, error)
	Update(ctx context.Context, job models.Job) (models.Job, error)
	List(ctx context.Context, filter models.JobFilter) (models.JobPage, error)
	SaveResult(ctx context.Context, result models.Result) error
	GetResultByJob(ctx context.Context, jobID string) (models.Result, error)
}

// Scheduler is the slice of the job scheduler the service depends on.
type Scheduler interface {
	Schedule(ctx context.Context, cfg models.ScrapingConfig) (models.Job, error)
	Unschedule(ctx context.Context, jobID string) error
}

// Service implements the orchestration operations. Public operations pass
// through the guard wrapper (rate limit + circuit breaker, no retry at this
// layer); retries live in the components the service calls.
type Service struct {
	store      JobStore
	scheduler  Scheduler
	pipe       *pipeline.Pipeline
	guard      *resilience.Wrapper
	strategies map[models.SourceType]collect.Strategy

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs the service. guard carries the API-level limiter and breaker.
func New(store JobStore, scheduler Scheduler, pipe *pipeline.Pipeline, guard *resilience.Wrapper) *Service {
	return &Service{
		store:      store,
		scheduler:  scheduler,
		pipe:       pipe,
		guard:      guard,
		strategies: make(map[models.SourceType]collect.Strategy),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// RegisterStrategy binds a collection strategy to a source type.
func (s *Service) RegisterStrategy(t models.SourceType, strategy collect.Strategy) {
	if t == "" || strategy == nil {
		return
	}
	s.strategies[t] = strategy
}

// StartJob validates the config and creates a job. Schedule-enabled configs
// go through the scheduler and come back SCHEDULED; everything else is
// PENDING, awaiting ExecuteJob.
func (s *Service) StartJob(ctx context.Context, cfg models.ScrapingConfig) (models.Job, error) {
	var job models.Job
	err := s.guarded(ctx, "service.start_job", func(ctx context.Context) error {
		if err := validateConfig(cfg); err != nil {
			return err
		}
		if cfg.Schedule.Enabled {
			created, err := s.scheduler.Schedule(ctx, cfg)
			if err != nil {
				return err
			}
			job = created
			return nil
		}
		now := time.Now().UTC()
		job = models.Job{
			ID:        uuid.New().String(),
			Config:    cfg,
			Status:    models.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.store.Create(ctx, job)
	})
	if err != nil {
		return models.Job{}, err
	}
	log.Printf("[JOB %s] created (status=%s source=%s)", job.ID, job.Status, job.Config.Source.URL)
	return job, nil
}

// GetJob fetches a job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	var job models.Job
	err := s.guarded(ctx, "service.get_job", func(ctx context.Context) error {
		var err error
		job, err = s.store.Get(ctx, jobID)
		return err
	})
	return job, err
}

// StopJob cancels a non-terminal job. An in-flight execution observes the
// cancellation at its next suspension point.
func (s *Service) StopJob(ctx context.Context, jobID string) error {
	return s.guarded(ctx, "service.stop_job", func(ctx context.Context) error {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if !models.CanTransition(job.Status, models.StatusCancelled) {
			return apperr.New(apperr.CodeInvalidState, "service.stop_job", "cannot stop job %s in state %s", jobID, job.Status)
		}

		wasScheduled := job.Status == models.StatusScheduled
		now := time.Now().UTC()
		job.Status = models.StatusCancelled
		job.ExecutionDetails.EndTime = &now
		if job.ExecutionDetails.StartTime != nil {
			job.ExecutionDetails.DurationMs = now.Sub(*job.ExecutionDetails.StartTime).Milliseconds()
		}
		if _, err := s.store.Update(ctx, job); err != nil {
			return err
		}

		s.cancelExecution(jobID)
		if wasScheduled {
			if err := s.scheduler.Unschedule(ctx, jobID); err != nil && !apperr.Is(err, apperr.CodeNotFound) {
				log.Printf("[JOB %s] unschedule after stop failed: %v", jobID, err)
			}
		}
		telemetry.JobsCancelled.Inc()
		log.Printf("[JOB %s] cancelled", jobID)
		return nil
	})
}

// ListJobs returns one page of jobs matching the filter.
func (s *Service) ListJobs(ctx context.Context, filter models.JobFilter) (models.JobPage, error) {
	var page models.JobPage
	err := s.guarded(ctx, "service.list_jobs", func(ctx context.Context) error {
		if filter.Page == 0 {
			filter.Page = 1
		}
		if filter.PageSize == 0 {
			filter.PageSize = defaultPageSize
		}
		if filter.Page < 1 {
			return apperr.New(apperr.CodeValidation, "service.list_jobs", "page must be >= 1")
		}
		if filter.PageSize < 1 || filter.PageSize > maxPageSize {
			return apperr.New(apperr.CodeValidation, "service.list_jobs", "page size must be between 1 and %d", maxPageSize)
		}
		if filter.StartDate != nil && filter.EndDate != nil && filter.StartDate.After(*filter.EndDate) {
			return apperr.New(apperr.CodeValidation, "service.list_jobs", "start date must not be after end date")
		}
		var err error
		page, err = s.store.List(ctx, filter)
		return err
	})
	return page, err
}

// GetJobResult returns the result of a completed job.
func (s *Service) GetJobResult(ctx context.Context, jobID string) (models.Result, error) {
	var result models.Result
	err := s.guarded(ctx, "service.get_result", func(ctx context.Context) error {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.StatusCompleted {
			return apperr.New(apperr.CodeInvalidState, "service.get_result", "job %s is %s, not COMPLETED", jobID, job.Status)
		}
		result, err = s.store.GetResultByJob(ctx, jobID)
		return err
	})
	return result, err
}

// guarded applies the rate limiter and circuit breaker to one public
// operation. No retry: the wrapper is configured with a single attempt.
func (s *Service) guarded(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s.guard == nil {
		return fn(ctx)
	}
	err := s.guard.Do(ctx, op, fn)
	if apperr.Is(err, apperr.CodeRateLimited) {
		telemetry.RateLimitRejects.Inc()
	}
	return err
}

func (s *Service) trackExecution(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[jobID] = cancel
}

func (s *Service) untrackExecution(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

func (s *Service) cancelExecution(jobID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	delete(s.cancels, jobID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// validateConfig checks a submitted config: source URL and protocol, sane
// rate-limit bounds, and a sane schedule when scheduling is enabled.
func validateConfig(cfg models.ScrapingConfig) error {
	if cfg.Source.URL == "" {
		return apperr.New(apperr.CodeValidation, "service.start_job", "source url is required")
	}
	u, err := url.Parse(cfg.Source.URL)
	if err != nil || u.Host == "" {
		return apperr.New(apperr.CodeValidation, "service.start_job", "source url %q is not a valid URL", cfg.Source.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.New(apperr.CodeValidation, "service.start_job", "unsupported protocol %q", u.Scheme)
	}
	if cfg.Source.Type == "" {
		return apperr.New(apperr.CodeValidation, "service.start_job", "source type is required")
	}
	if cfg.Options.RetryAttempts < 0 {
		return apperr.New(apperr.CodeValidation, "service.start_job", "retry attempts must be >= 0")
	}
	rl := cfg.Options.RateLimit
	if rl.Requests != 0 || rl.PeriodMs != 0 {
		if rl.Requests <= 0 || rl.Requests > maxRateLimitRequests {
			return apperr.New(apperr.CodeValidation, "service.start_job", "rate limit requests must be in 1..%d", maxRateLimitRequests)
		}
		if rl.PeriodMs <= 0 || rl.PeriodMs > maxRateLimitPeriod {
			return apperr.New(apperr.CodeValidation, "service.start_job", "rate limit period must be in 1..%dms", maxRateLimitPeriod)
		}
	}
	if cfg.Schedule.Enabled {
		if err := schedule.ValidateSchedule(cfg.Schedule); err != nil {
			return err
		}
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
