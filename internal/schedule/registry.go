package schedule

import (
	"sync"
	"time"
)

// RetryPolicy is handed to the external scheduling service when a trigger is
// registered.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	MinBackoff  time.Duration `json:"min_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff"`
}

// Metadata is the in-memory record of one registered recurring trigger. It
// exists only while the trigger is live with the external scheduler; a
// process restart loses it, which is an accepted failure mode.
type Metadata struct {
	JobID          string      `json:"job_id"`
	ScheduleID     string      `json:"schedule_id"`
	CronExpression string      `json:"cron_expression"`
	Timezone       string      `json:"timezone"`
	Retry          RetryPolicy `json:"retry"`
	RegisteredAt   time.Time   `json:"registered_at"`
}

// Registry is the concurrency-safe schedule metadata store, mutated by
// Schedule, Unschedule, and HandleTrigger concurrently.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Metadata
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Metadata)}
}

func (r *Registry) Put(m Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[m.JobID] = m
}

func (r *Registry) Get(jobID string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[jobID]
	return m, ok
}

func (r *Registry) Delete(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, jobID)
}

// List snapshots the active schedules.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.entries))
	for _, m := range r.entries {
		out = append(out, m)
	}
	return out
}
