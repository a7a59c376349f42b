package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in the job store.
type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusScheduled JobStatus = "SCHEDULED"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCancelled JobStatus = "CANCELLED"
)

// transitions holds the legal lifecycle edges. A status missing from the map
// is terminal.
var transitions = map[JobStatus][]JobStatus{
	StatusPending:   {StatusScheduled, StatusRunning, StatusCancelled},
	StatusScheduled: {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving a job from one status to another is legal.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ExecutionDetails tracks the execution progress of a running job.
// Progress is monotonically non-decreasing while the job is RUNNING.
type ExecutionDetails struct {
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	DurationMs     int64          `json:"duration_ms,omitempty"`
	Attempts       int            `json:"attempts"`
	Progress       int            `json:"progress"`
	LastCheckpoint string         `json:"last_checkpoint,omitempty"`
	Metrics        map[string]any `json:"metrics,omitempty"`
}

// Job is one scheduled or on-demand collection task and its lifecycle state.
// Config is an immutable snapshot taken at submission; Status moves only along
// the edges in CanTransition, applied through the store's versioned update.
type Job struct {
	ID               string           `json:"id"`
	Config           ScrapingConfig   `json:"config"`
	Status           JobStatus        `json:"status"`
	ExecutionDetails ExecutionDetails `json:"execution_details"`
	RetryCount       int              `json:"retry_count"`
	LastError        *string          `json:"last_error,omitempty"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	Status    *JobStatus `json:"status,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

// JobPage is one page of a filtered job listing.
type JobPage struct {
	Jobs     []Job `json:"jobs"`
	Total    int   `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}
