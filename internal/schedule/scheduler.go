// Package schedule registers recurring job triggers with an external
// scheduling service and maps trigger callbacks onto job execution.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/resilience"
)

// cronParser accepts the standard five-field syntax plus descriptors
// (@hourly, @daily, ...).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// TriggerService is the external scheduling service contract. Delivery of
// trigger callbacks is at-least-once.
type TriggerService interface {
	RegisterTrigger(ctx context.Context, scheduleID, cronExpr, timezone, callbackTarget string, policy RetryPolicy) error
	DeregisterTrigger(ctx context.Context, scheduleID string) error
}

// Executor is the orchestration layer's job-execution entry point, invoked
// when a registered trigger fires.
type Executor interface {
	ExecuteJob(ctx context.Context, jobID string) error
}

// JobCreator persists the job record a schedule produces.
type JobCreator interface {
	Create(ctx context.Context, job models.Job) error
}

// Scheduler validates schedules, owns the metadata registry, and talks to the
// trigger service through a resilience wrapper.
type Scheduler struct {
	triggers       TriggerService
	registry       *Registry
	jobs           JobCreator
	executor       Executor
	wrapper        *resilience.Wrapper
	callbackTarget string
	retry          RetryPolicy
}

// New constructs a scheduler. The wrapper is the one breaker/limiter instance
// dedicated to the external scheduling service.
func New(triggers TriggerService, registry *Registry, jobs JobCreator, wrapper *resilience.Wrapper, callbackTarget string, retry RetryPolicy) *Scheduler {
	return &Scheduler{
		triggers:       triggers,
		registry:       registry,
		jobs:           jobs,
		wrapper:        wrapper,
		callbackTarget: callbackTarget,
		retry:          retry,
	}
}

// SetExecutor wires the execution entry point. Set once at startup; the
// scheduler and orchestration service reference each other.
func (s *Scheduler) SetExecutor(e Executor) { s.executor = e }

// ValidateSchedule checks a schedule block for use with Schedule.
func ValidateSchedule(sched models.Schedule) error {
	if !sched.Enabled {
		return apperr.New(apperr.CodeValidation, "schedule.validate", "schedule is not enabled")
	}
	if sched.CronExpression == "" {
		return apperr.New(apperr.CodeValidation, "schedule.validate", "cron expression is required")
	}
	if _, err := cronParser.Parse(sched.CronExpression); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "schedule.validate", fmt.Errorf("parse cron %q: %w", sched.CronExpression, err))
	}
	if sched.Timezone == "" {
		return apperr.New(apperr.CodeValidation, "schedule.validate", "timezone is required")
	}
	if _, err := time.LoadLocation(sched.Timezone); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "schedule.validate", fmt.Errorf("load timezone %q: %w", sched.Timezone, err))
	}
	return nil
}

// Schedule validates the config, registers a recurring trigger, stores the
// metadata, and returns a new job in SCHEDULED state.
func (s *Scheduler) Schedule(ctx context.Context, cfg models.ScrapingConfig) (models.Job, error) {
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return models.Job{}, err
	}

	jobID := uuid.New().String()
	scheduleID := "sched-" + jobID
	now := time.Now().UTC()

	err := s.wrapper.Do(ctx, "schedule.register", func(ctx context.Context) error {
		return s.triggers.RegisterTrigger(ctx, scheduleID, cfg.Schedule.CronExpression, cfg.Schedule.Timezone, s.callbackTarget, s.retry)
	})
	if err != nil {
		return models.Job{}, err
	}

	job := models.Job{
		ID:        jobID,
		Config:    cfg,
		Status:    models.StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		// The external trigger is live but the record failed; drop the
		// trigger on a best-effort basis before surfacing.
		derr := s.wrapper.Do(ctx, "schedule.deregister", func(ctx context.Context) error {
			return s.triggers.DeregisterTrigger(ctx, scheduleID)
		})
		if derr != nil {
			log.Printf("[SCHED %s] orphaned trigger after create failure: %v", scheduleID, derr)
		}
		return models.Job{}, err
	}

	s.registry.Put(Metadata{
		JobID:          jobID,
		ScheduleID:     scheduleID,
		CronExpression: cfg.Schedule.CronExpression,
		Timezone:       cfg.Schedule.Timezone,
		Retry:          s.retry,
		RegisteredAt:   now,
	})
	log.Printf("[SCHED %s] registered trigger for job %s (%s %s)", scheduleID, jobID, cfg.Schedule.CronExpression, cfg.Schedule.Timezone)
	return job, nil
}

// Lookup returns the metadata for an active schedule.
func (s *Scheduler) Lookup(jobID string) (Metadata, bool) {
	return s.registry.Get(jobID)
}

// HandleTrigger runs the job a fired trigger points at.
func (s *Scheduler) HandleTrigger(ctx context.Context, jobID string) error {
	if _, ok := s.registry.Get(jobID); !ok {
		return apperr.New(apperr.CodeNotFound, "schedule.trigger", "no active schedule for job %s", jobID)
	}
	if s.executor == nil {
		return apperr.New(apperr.CodeInternal, "schedule.trigger", "no executor wired")
	}
	return s.executor.ExecuteJob(ctx, jobID)
}

// Unschedule deregisters the external trigger and removes the metadata. The
// metadata is retained when deregistration fails so the caller can retry; a
// live external trigger must never be silently forgotten.
func (s *Scheduler) Unschedule(ctx context.Context, jobID string) error {
	meta, ok := s.registry.Get(jobID)
	if !ok {
		return apperr.New(apperr.CodeNotFound, "schedule.unschedule", "no active schedule for job %s", jobID)
	}
	err := s.wrapper.Do(ctx, "schedule.deregister", func(ctx context.Context) error {
		return s.triggers.DeregisterTrigger(ctx, meta.ScheduleID)
	})
	if err != nil {
		return err
	}
	s.registry.Delete(jobID)
	log.Printf("[SCHED %s] deregistered trigger for job %s", meta.ScheduleID, jobID)
	return nil
}

// List snapshots the active schedules. No side effects.
func (s *Scheduler) List() []Metadata {
	return s.registry.List()
}
