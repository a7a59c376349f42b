package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/collect"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/telemetry"
)

// ExecuteJob runs one job to a terminal state: RUNNING, then collection and
// the pipeline, then COMPLETED or FAILED. It is the entry point for trigger
// callbacks and manual starts. The execution context is detached from the
// caller's request so a long run survives the request that started it;
// StopJob cancels it through the tracked per-job cancel func.
func (s *Service) ExecuteJob(ctx context.Context, jobID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !models.CanTransition(job.Status, models.StatusRunning) {
		return apperr.New(apperr.CodeInvalidState, "service.execute", "cannot run job %s in state %s", jobID, job.Status)
	}

	strategy, ok := s.strategies[job.Config.Source.Type]
	if !ok {
		return apperr.New(apperr.CodeValidation, "service.execute", "no strategy for source type %s", job.Config.Source.Type)
	}

	now := time.Now().UTC()
	job.Status = models.StatusRunning
	job.ExecutionDetails.StartTime = &now
	job.ExecutionDetails.Progress = 0
	job.ExecutionDetails.LastCheckpoint = "started"
	job, err = s.store.Update(ctx, job)
	if err != nil {
		return err
	}
	telemetry.JobsStarted.Inc()
	telemetry.InFlightJobs.Inc()
	defer telemetry.InFlightJobs.Dec()

	execCtx := context.Background()
	var cancel context.CancelFunc
	if t := job.Config.Options.TimeoutMs; t > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, time.Duration(t)*time.Millisecond)
	} else {
		execCtx, cancel = context.WithCancel(execCtx)
	}
	s.trackExecution(job.ID, cancel)
	defer s.untrackExecution(job.ID)
	defer cancel()

	result, runErr := s.runAttempts(execCtx, &job, strategy)

	if ctxErr := execCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			// The job's own timeout elapsed; the run is unrecoverable.
			return s.markFailed(ctx, job, apperr.New(apperr.CodeTransient, "service.execute", "job timed out after %dms", job.Config.Options.TimeoutMs))
		}
		// StopJob cancelled the execution and owns the CANCELLED transition;
		// nothing here is authoritative.
		log.Printf("[JOB %s] execution cancelled", job.ID)
		return ctxErr
	}

	if runErr != nil {
		return s.markFailed(ctx, job, runErr)
	}

	if err := s.store.SaveResult(ctx, *result); err != nil {
		return s.markFailed(ctx, job, err)
	}

	end := time.Now().UTC()
	job.Status = models.StatusCompleted
	job.ExecutionDetails.EndTime = &end
	job.ExecutionDetails.DurationMs = end.Sub(*job.ExecutionDetails.StartTime).Milliseconds()
	job.ExecutionDetails.Progress = 100
	job.ExecutionDetails.LastCheckpoint = "completed"
	job.ExecutionDetails.Metrics = map[string]any{
		"item_count":        result.Metadata.ItemCount,
		"size_bytes":        result.Metadata.Size,
		"validation_status": string(result.Metadata.ValidationStatus),
	}
	if _, err := s.store.Update(ctx, job); err != nil {
		return err
	}
	telemetry.JobsCompleted.Inc()
	log.Printf("[JOB %s] completed in %dms (result=%s)", job.ID, job.ExecutionDetails.DurationMs, result.ID)
	return nil
}

// runAttempts runs collection and the pipeline under the job's retry budget.
// Only transient failures consume retries; anything else surfaces at once.
func (s *Service) runAttempts(ctx context.Context, job *models.Job, strategy collect.Strategy) (*models.Result, error) {
	budget := job.Config.Options.RetryAttempts
	delay := time.Duration(job.Config.Options.RetryDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = time.Second
	}

	for attempt := 0; ; attempt++ {
		job.ExecutionDetails.Attempts = attempt + 1
		result, err := s.runOnce(ctx, job, strategy)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !apperr.IsTransient(err) || attempt >= budget {
			return nil, err
		}

		job.RetryCount = attempt + 1
		s.checkpoint(ctx, job, job.ExecutionDetails.Progress, "retrying")
		log.Printf("[JOB %s] attempt %d failed, retrying: %v", job.ID, attempt+1, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce performs a single collection and pipeline pass.
func (s *Service) runOnce(ctx context.Context, job *models.Job, strategy collect.Strategy) (*models.Result, error) {
	s.checkpoint(ctx, job, 10, "collecting")

	raw, err := strategy.Execute(ctx, job.Config)
	if err != nil {
		return nil, err
	}
	s.checkpoint(ctx, job, 50, "collected")

	result := buildResult(job, raw)
	if err := s.pipe.Process(ctx, result); err != nil {
		return nil, err
	}
	s.checkpoint(ctx, job, 90, "processed")
	return result, nil
}

// checkpoint advances progress, keeping it monotone, and persists best-effort.
func (s *Service) checkpoint(ctx context.Context, job *models.Job, progress int, label string) {
	if progress > job.ExecutionDetails.Progress {
		job.ExecutionDetails.Progress = progress
	}
	job.ExecutionDetails.LastCheckpoint = label
	updated, err := s.store.Update(ctx, *job)
	if err != nil {
		// A checkpoint is advisory; a stale version here means a concurrent
		// stop, which the execution loop will observe at its next ctx check.
		log.Printf("[JOB %s] checkpoint %q not persisted: %v", job.ID, label, err)
		return
	}
	*job = updated
}

func (s *Service) markFailed(ctx context.Context, job models.Job, cause error) error {
	current, err := s.store.Get(ctx, job.ID)
	if err != nil {
		return err
	}
	if !models.CanTransition(current.Status, models.StatusFailed) {
		return cause
	}
	end := time.Now().UTC()
	msg := cause.Error()
	current.Status = models.StatusFailed
	current.LastError = &msg
	current.ExecutionDetails = job.ExecutionDetails
	current.ExecutionDetails.EndTime = &end
	if job.ExecutionDetails.StartTime != nil {
		current.ExecutionDetails.DurationMs = end.Sub(*job.ExecutionDetails.StartTime).Milliseconds()
	}
	current.RetryCount = job.RetryCount
	if _, err := s.store.Update(ctx, current); err != nil {
		log.Printf("[JOB %s] failed-state update not persisted: %v", job.ID, err)
	}
	telemetry.JobsFailed.Inc()
	log.Printf("[JOB %s] failed: %v", job.ID, cause)
	return cause
}

// buildResult assembles the pipeline input from one collection run.
func buildResult(job *models.Job, raw *collect.RawContent) *models.Result {
	content := map[string]any{
		"body": string(raw.Body),
	}
	for k, v := range raw.Fields {
		content[k] = v
	}
	ts := raw.FetchedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &models.Result{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		SourceType: job.Config.Source.Type,
		SourceURL:  job.Config.Source.URL,
		Timestamp:  ts,
		Content:    content,
		Metadata: models.ResultMetadata{
			Size:        int64(len(raw.Body)),
			ItemCount:   raw.ItemCount,
			Format:      "json",
			ContentType: raw.ContentType,
			Checksum:    checksum(raw.Body),
		},
	}
}
