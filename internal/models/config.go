package models

// SourceType classifies where a job collects from.
type SourceType string

const (
	SourceWebsite SourceType = "WEBSITE"
	SourceAPI     SourceType = "API"
	SourceFeed    SourceType = "FEED"
)

// Source describes the target of a collection job.
type Source struct {
	URL            string            `json:"url"`
	Type           SourceType        `json:"type"`
	Selectors      map[string]string `json:"selectors,omitempty"`
	Authentication *Authentication   `json:"authentication,omitempty"`
}

// Authentication carries credentials for sources that need them. Values are
// opaque to the core; the collection strategy interprets them.
type Authentication struct {
	Type        string            `json:"type"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// Schedule configures recurring execution via the external scheduling service.
type Schedule struct {
	Enabled        bool   `json:"enabled"`
	CronExpression string `json:"cron_expression,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	MinFrequencyMs int64  `json:"min_frequency_ms,omitempty"`
	MaxFrequencyMs int64  `json:"max_frequency_ms,omitempty"`
}

// RateLimit bounds outbound request volume for a job.
type RateLimit struct {
	Requests int   `json:"requests"`
	PeriodMs int64 `json:"period_ms"`
}

// Options holds execution tuning for a job.
type Options struct {
	RetryAttempts int       `json:"retry_attempts"`
	RetryDelayMs  int64     `json:"retry_delay_ms"`
	TimeoutMs     int64     `json:"timeout_ms"`
	UserAgent     string    `json:"user_agent,omitempty"`
	RateLimit     RateLimit `json:"rate_limit"`
}

// ScrapingConfig is the immutable parameter snapshot attached to a Job.
type ScrapingConfig struct {
	Source   Source   `json:"source"`
	Schedule Schedule `json:"schedule"`
	Options  Options  `json:"options"`
}
