package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
)

// Postgres persists jobs and results behind pgxpool. Job updates use a
// version column so concurrent conflicting transitions cannot both succeed.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Create inserts a new job row at version 1.
func (s *Postgres) Create(ctx context.Context, job models.Job) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	execJSON, err := json.Marshal(job.ExecutionDetails)
	if err != nil {
		return fmt.Errorf("marshal execution details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, config, status, execution_details, retry_count, last_error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
	`, job.ID, configJSON, string(job.Status), execJSON, job.RetryCount, job.LastError, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (s *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, config, status, execution_details, retry_count, last_error, version, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, apperr.New(apperr.CodeNotFound, "store.get", "job %s not found", id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// Update writes the job back, guarded by the version it was read at. A stale
// version is rejected so the caller can re-read and decide again.
func (s *Postgres) Update(ctx context.Context, job models.Job) (models.Job, error) {
	execJSON, err := json.Marshal(job.ExecutionDetails)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal execution details: %w", err)
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, execution_details = $3, retry_count = $4, last_error = $5, version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $7
	`, job.ID, string(job.Status), execJSON, job.RetryCount, job.LastError, now, job.Version)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, job.ID); getErr != nil {
			return models.Job{}, getErr
		}
		return models.Job{}, apperr.New(apperr.CodeConflict, "store.update", "job %s modified concurrently (version %d stale)", job.ID, job.Version)
	}
	job.Version++
	job.UpdatedAt = now
	return job, nil
}

// List returns one page of jobs matching the filter, newest first.
func (s *Postgres) List(ctx context.Context, filter models.JobFilter) (models.JobPage, error) {
	where := "TRUE"
	args := []any{}
	n := 0
	if filter.Status != nil {
		n++
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.StartDate != nil {
		n++
		where += fmt.Sprintf(" AND created_at >= $%d", n)
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		n++
		where += fmt.Sprintf(" AND created_at <= $%d", n)
		args = append(args, *filter.EndDate)
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return models.JobPage{}, fmt.Errorf("count jobs: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize
	query := fmt.Sprintf(`
		SELECT id, config, status, execution_details, retry_count, last_error, version, created_at, updated_at
		FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, where, n+1, n+2)
	rows, err := s.pool.Query(ctx, query, append(args, filter.PageSize, offset)...)
	if err != nil {
		return models.JobPage{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return models.JobPage{}, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return models.JobPage{}, fmt.Errorf("iterate jobs: %w", err)
	}
	return models.JobPage{Jobs: jobs, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// SaveResult upserts the result produced by the pipeline for a job.
func (s *Postgres) SaveResult(ctx context.Context, result models.Result) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO results (id, job_id, doc, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, result.ID, result.JobID, doc)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetResultByJob fetches the result of a completed job.
func (s *Postgres) GetResultByJob(ctx context.Context, jobID string) (models.Result, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM results WHERE job_id = $1`, jobID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Result{}, apperr.New(apperr.CodeNotFound, "store.result", "no result for job %s", jobID)
	}
	if err != nil {
		return models.Result{}, fmt.Errorf("query result: %w", err)
	}
	var result models.Result
	if err := json.Unmarshal(doc, &result); err != nil {
		return models.Result{}, fmt.Errorf("unmarshal result: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var (
		job        models.Job
		configJSON []byte
		execJSON   []byte
		status     string
		lastErr    pgtype.Text
	)
	if err := row.Scan(&job.ID, &configJSON, &status, &execJSON, &job.RetryCount, &lastErr, &job.Version, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	if err := json.Unmarshal(configJSON, &job.Config); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(execJSON, &job.ExecutionDetails); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal execution details: %w", err)
	}
	job.Status = models.JobStatus(status)
	if lastErr.Valid {
		job.LastError = &lastErr.String
	}
	return job, nil
}
