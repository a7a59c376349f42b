// Package pipeline validates, scores, transforms, and persists one collection
// result at a time, keeping an append-only processing history on the result.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/resilience"
	"scrape-orchestrator/internal/storage"
	"scrape-orchestrator/internal/telemetry"
	"scrape-orchestrator/internal/warehouse"
)

// Warehouse is the analytical store the pipeline appends one row per result
// to. Inserts must be safe to repeat for the same result id.
type Warehouse interface {
	InsertRow(ctx context.Context, table string, row warehouse.Row) error
}

// Config fixes the persistence targets for one pipeline instance.
type Config struct {
	RawBucket        string
	ProcessedBucket  string
	WarehouseTable   string
	SchemaVersion    string
	EncryptionKeyRef string
}

// Pipeline runs the validate -> score -> transform -> persist stages. The
// storage and warehouse wrappers carry the retry budget; the pipeline itself
// never restarts a failed run.
type Pipeline struct {
	cfg          Config
	objects      storage.ObjectStore
	warehouse    Warehouse
	scorers      Scorers
	storeWrapper *resilience.Wrapper
	whWrapper    *resilience.Wrapper
}

// New constructs a pipeline. storeWrapper and whWrapper are the resilience
// wrappers dedicated to object storage and the warehouse respectively.
func New(cfg Config, objects storage.ObjectStore, wh Warehouse, scorers Scorers, storeWrapper, whWrapper *resilience.Wrapper) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		objects:      objects,
		warehouse:    wh,
		scorers:      scorers,
		storeWrapper: storeWrapper,
		whWrapper:    whWrapper,
	}
}

// Process runs all stages on the result, mutating it in place. On success the
// result carries quality metrics, a validation status, a populated storage
// block, and a SUCCESS history entry. Any stage failure after validation is
// recorded in the processing history before the error surfaces; the storage
// block stays empty so no partial persistence is ever authoritative.
func (p *Pipeline) Process(ctx context.Context, result *models.Result) error {
	started := time.Now()

	if err := p.validate(result); err != nil {
		return err
	}

	if err := p.stage(ctx, result, "score", func(ctx context.Context) error {
		metrics := p.scorers.Score(result)
		result.Metadata.QualityMetrics = &metrics
		result.Metadata.ValidationStatus = models.ClassifyQuality(metrics)
		return nil
	}); err != nil {
		return err
	}

	var transformed map[string]any
	if err := p.stage(ctx, result, "transform", func(ctx context.Context) error {
		var err error
		transformed, err = p.transform(result)
		return err
	}); err != nil {
		return err
	}

	var rawLocation string
	if err := p.stage(ctx, result, "persist_raw", func(ctx context.Context) error {
		return p.storeWrapper.Do(ctx, "pipeline.persist_raw", func(ctx context.Context) error {
			doc, err := json.Marshal(result.Content)
			if err != nil {
				return apperr.Wrap(apperr.CodePersistence, "pipeline.persist_raw", err)
			}
			loc, err := p.objects.Put(ctx, p.cfg.RawBucket, rawPath(result.ID), doc, storage.ObjectMeta{
				ContentType: "application/json",
				Tags: map[string]string{
					"job-id":       result.JobID,
					"source-type":  string(result.SourceType),
					"collected-at": result.Timestamp.UTC().Format(time.RFC3339),
				},
				EncryptionKeyRef: p.cfg.EncryptionKeyRef,
			})
			if err != nil {
				return err
			}
			rawLocation = loc
			return nil
		})
	}); err != nil {
		return err
	}

	var processedLocation string
	if err := p.stage(ctx, result, "persist_processed", func(ctx context.Context) error {
		return p.storeWrapper.Do(ctx, "pipeline.persist_processed", func(ctx context.Context) error {
			doc, err := json.Marshal(transformed)
			if err != nil {
				return apperr.Wrap(apperr.CodePersistence, "pipeline.persist_processed", err)
			}
			loc, err := p.objects.Put(ctx, p.cfg.ProcessedBucket, processedPath(result.ID), doc, storage.ObjectMeta{
				ContentType: "application/json",
				Tags: map[string]string{
					"job-id":         result.JobID,
					"source-type":    string(result.SourceType),
					"collected-at":   result.Timestamp.UTC().Format(time.RFC3339),
					"schema-version": p.cfg.SchemaVersion,
				},
				EncryptionKeyRef: p.cfg.EncryptionKeyRef,
			})
			if err != nil {
				return err
			}
			processedLocation = loc
			return nil
		})
	}); err != nil {
		return err
	}

	if err := p.stage(ctx, result, "persist_warehouse", func(ctx context.Context) error {
		return p.whWrapper.Do(ctx, "pipeline.persist_warehouse", func(ctx context.Context) error {
			return p.warehouse.InsertRow(ctx, p.cfg.WarehouseTable, warehouse.Row(transformed))
		})
	}); err != nil {
		return err
	}

	// Finalize: the storage block is populated in one step so either all of
	// the persistence stages are authoritative or none are.
	result.Storage = &models.StorageInfo{
		RawLocation:       rawLocation,
		ProcessedLocation: processedLocation,
		WarehouseTable:    p.cfg.WarehouseTable,
		SchemaVersion:     p.cfg.SchemaVersion,
		EncryptionKeyRef:  p.cfg.EncryptionKeyRef,
	}
	result.AppendHistory("process", started, models.ProcessingSuccess, "")
	telemetry.PipelineSuccess.Inc()
	log.Printf("[PIPE %s] processed result for job %s in %s (status=%s)", result.ID, result.JobID, time.Since(started), result.Metadata.ValidationStatus)
	return nil
}

// validate checks the result's required identifying fields. A failure here
// aborts before any side effect.
func (p *Pipeline) validate(result *models.Result) error {
	switch {
	case result == nil:
		return apperr.New(apperr.CodeValidation, "pipeline.validate", "nil result")
	case result.ID == "":
		return apperr.New(apperr.CodeValidation, "pipeline.validate", "result id is required")
	case result.JobID == "":
		return apperr.New(apperr.CodeValidation, "pipeline.validate", "job id is required")
	case result.SourceType == "":
		return apperr.New(apperr.CodeValidation, "pipeline.validate", "source type is required")
	case result.SourceURL == "":
		return apperr.New(apperr.CodeValidation, "pipeline.validate", "source url is required")
	case result.Timestamp.IsZero():
		return apperr.New(apperr.CodeValidation, "pipeline.validate", "timestamp is required")
	}
	return nil
}

// transform builds the storage-ready representation: identifying fields plus
// the computed quality and validation fields. result_id is the stable key
// that keeps warehouse retries idempotent.
func (p *Pipeline) transform(result *models.Result) (map[string]any, error) {
	q := result.Metadata.QualityMetrics
	if q == nil {
		return nil, apperr.New(apperr.CodeTransform, "pipeline.transform", "quality metrics missing for result %s", result.ID)
	}
	return map[string]any{
		"result_id":         result.ID,
		"job_id":            result.JobID,
		"source_type":       string(result.SourceType),
		"source_url":        result.SourceURL,
		"collected_at":      result.Timestamp.UTC(),
		"schema_version":    p.cfg.SchemaVersion,
		"validation_status": string(result.Metadata.ValidationStatus),
		"overall_score":     q.Overall(),
		"completeness":      q.Completeness,
		"accuracy":          q.Accuracy,
		"consistency":       q.Consistency,
		"freshness":         q.Freshness,
		"item_count":        result.Metadata.ItemCount,
		"size_bytes":        result.Metadata.Size,
		"checksum":          result.Metadata.Checksum,
	}, nil
}

// stage times one pipeline stage and appends its outcome to the processing
// history. Failures are recorded before they propagate.
func (p *Pipeline) stage(ctx context.Context, result *models.Result, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	if err := fn(ctx); err != nil {
		result.AppendHistory(name, started, models.ProcessingFailure, err.Error())
		telemetry.PipelineFailures.WithLabelValues(name).Inc()
		log.Printf("[PIPE %s] stage %s failed: %v", result.ID, name, err)
		if name == "transform" && !apperr.Is(err, apperr.CodeTransform) {
			return apperr.Wrap(apperr.CodeTransform, "pipeline.transform", err)
		}
		return err
	}
	result.AppendHistory(name, started, models.ProcessingSuccess, "")
	return nil
}

func rawPath(resultID string) string {
	return fmt.Sprintf("results/%s/raw.json", resultID)
}

func processedPath(resultID string) string {
	return fmt.Sprintf("results/%s/processed.json", resultID)
}
