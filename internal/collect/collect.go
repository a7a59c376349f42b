// Package collect defines the pluggable collection strategy the orchestrator
// runs to produce raw content for the pipeline.
package collect

import (
	"context"
	"time"

	"scrape-orchestrator/internal/models"
)

// RawContent is the output of one collection run, before pipeline processing.
type RawContent struct {
	Body        []byte
	ContentType string
	Title       string
	ItemCount   int
	Fields      map[string]any
	FetchedAt   time.Time
}

// Strategy executes one collection against a configured source. It must
// observe ctx at every network suspension point; internal retries are its
// own business, the pipeline treats it as a single call.
type Strategy interface {
	Execute(ctx context.Context, cfg models.ScrapingConfig) (*RawContent, error)
}
