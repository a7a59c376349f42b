package models

import (
	"time"
)

// ValidationStatus classifies a result by its overall quality score.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "VALID"
	ValidationPartial ValidationStatus = "PARTIAL"
	ValidationInvalid ValidationStatus = "INVALID"
)

// Quality score thresholds. A result is VALID at or above ValidThreshold,
// PARTIAL at or above PartialThreshold (70% of valid), INVALID below.
const (
	ValidThreshold   = 80.0
	PartialThreshold = ValidThreshold * 0.7
)

// QualityMetrics holds the four normalized quality scores, each in [0,100].
type QualityMetrics struct {
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Freshness    float64 `json:"freshness"`
}

// Overall averages the four scores.
func (q QualityMetrics) Overall() float64 {
	return (q.Completeness + q.Accuracy + q.Consistency + q.Freshness) / 4
}

// ClassifyQuality derives a validation status from quality scores. The
// thresholds are fixed policy, not per-call configuration.
func ClassifyQuality(q QualityMetrics) ValidationStatus {
	overall := q.Overall()
	switch {
	case overall >= ValidThreshold:
		return ValidationValid
	case overall >= PartialThreshold:
		return ValidationPartial
	default:
		return ValidationInvalid
	}
}

// StorageInfo records where a processed result was persisted. It is populated
// atomically by the pipeline's finalize stage, never piecemeal.
type StorageInfo struct {
	RawLocation       string `json:"raw_location"`
	ProcessedLocation string `json:"processed_location"`
	WarehouseTable    string `json:"warehouse_table"`
	SchemaVersion     string `json:"schema_version"`
	CompressionType   string `json:"compression_type,omitempty"`
	EncryptionKeyRef  string `json:"encryption_key_ref,omitempty"`
}

// ProcessingStatus marks the outcome of one pipeline stage.
type ProcessingStatus string

const (
	ProcessingSuccess ProcessingStatus = "SUCCESS"
	ProcessingFailure ProcessingStatus = "FAILURE"
)

// ProcessingRecord is one append-only audit entry for a pipeline operation.
type ProcessingRecord struct {
	Operation  string           `json:"operation"`
	Timestamp  time.Time        `json:"timestamp"`
	DurationMs int64            `json:"duration_ms"`
	Status     ProcessingStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
}

// ResultMetadata describes the collected content and its quality assessment.
type ResultMetadata struct {
	Size              int64              `json:"size"`
	ItemCount         int                `json:"item_count"`
	Format            string             `json:"format,omitempty"`
	ContentType       string             `json:"content_type,omitempty"`
	Checksum          string             `json:"checksum,omitempty"`
	ValidationStatus  ValidationStatus   `json:"validation_status,omitempty"`
	QualityMetrics    *QualityMetrics    `json:"quality_metrics,omitempty"`
	ProcessingHistory []ProcessingRecord `json:"processing_history"`
}

// Result is the output artifact of one collection run.
type Result struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	SourceType SourceType     `json:"source_type"`
	SourceURL  string         `json:"source_url"`
	Timestamp  time.Time      `json:"timestamp"`
	Content    map[string]any `json:"content,omitempty"`
	Storage    *StorageInfo   `json:"storage,omitempty"`
	Metadata   ResultMetadata `json:"metadata"`
}

// AppendHistory records a pipeline operation outcome on the result.
func (r *Result) AppendHistory(op string, started time.Time, status ProcessingStatus, errMsg string) {
	r.Metadata.ProcessingHistory = append(r.Metadata.ProcessingHistory, ProcessingRecord{
		Operation:  op,
		Timestamp:  started,
		DurationMs: time.Since(started).Milliseconds(),
		Status:     status,
		Error:      errMsg,
	})
}
