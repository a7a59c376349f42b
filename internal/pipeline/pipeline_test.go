package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/resilience"
	"scrape-orchestrator/internal/storage"
	"scrape-orchestrator/internal/warehouse"
)

type fakeObjects struct {
	mu      sync.Mutex
	puts    []string
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, bucket, path string, data []byte, _ storage.ObjectMeta) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bucket + "/" + path
	f.puts = append(f.puts, key)
	f.objects[key] = data
	return "mem://" + key, nil
}

type fakeWarehouse struct {
	mu      sync.Mutex
	rows    map[string]warehouse.Row // keyed by result_id
	inserts int
	fail    bool
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{rows: make(map[string]warehouse.Row)}
}

func (f *fakeWarehouse) InsertRow(_ context.Context, _ string, row warehouse.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.fail {
		return apperr.New(apperr.CodeTransient, "fake.insert", "warehouse down")
	}
	id, _ := row["result_id"].(string)
	if _, exists := f.rows[id]; !exists {
		f.rows[id] = row
	}
	return nil
}

func noRetry() *resilience.Wrapper {
	return resilience.NewWrapper("test", nil, nil, resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func newTestPipeline(objects *fakeObjects, wh *fakeWarehouse) *Pipeline {
	return New(Config{
		RawBucket:        "raw",
		ProcessedBucket:  "processed",
		WarehouseTable:   "scraped_results",
		SchemaVersion:    "1.0",
		EncryptionKeyRef: "kms-key-1",
	}, objects, wh, DefaultScorers(), noRetry(), noRetry())
}

func sampleResult() *models.Result {
	return &models.Result{
		ID:         "res-1",
		JobID:      "job-1",
		SourceType: models.SourceWebsite,
		SourceURL:  "https://example.com",
		Timestamp:  time.Now().UTC(),
		Content: map[string]any{
			"body":  "<html><title>t</title></html>",
			"links": []string{"https://example.com/a"},
		},
		Metadata: models.ResultMetadata{
			Size:        29,
			ItemCount:   1,
			ContentType: "text/html",
			Checksum:    "abc123",
		},
	}
}

func TestProcessSuccess(t *testing.T) {
	objects := newFakeObjects()
	wh := newFakeWarehouse()
	p := newTestPipeline(objects, wh)

	result := sampleResult()
	if err := p.Process(context.Background(), result); err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.Storage == nil {
		t.Fatal("expected storage block to be populated")
	}
	if result.Storage.RawLocation != "mem://raw/results/res-1/raw.json" {
		t.Fatalf("unexpected raw location %s", result.Storage.RawLocation)
	}
	if result.Storage.ProcessedLocation != "mem://processed/results/res-1/processed.json" {
		t.Fatalf("unexpected processed location %s", result.Storage.ProcessedLocation)
	}
	if result.Storage.WarehouseTable != "scraped_results" || result.Storage.SchemaVersion != "1.0" {
		t.Fatalf("unexpected storage block %+v", result.Storage)
	}
	if result.Storage.EncryptionKeyRef != "kms-key-1" {
		t.Fatalf("expected encryption key ref to be carried, got %q", result.Storage.EncryptionKeyRef)
	}

	if result.Metadata.QualityMetrics == nil {
		t.Fatal("expected quality metrics")
	}
	if result.Metadata.ValidationStatus == "" {
		t.Fatal("expected validation status to be derived")
	}

	history := result.Metadata.ProcessingHistory
	if len(history) == 0 {
		t.Fatal("expected processing history")
	}
	last := history[len(history)-1]
	if last.Operation != "process" || last.Status != models.ProcessingSuccess {
		t.Fatalf("expected final SUCCESS entry, got %+v", last)
	}

	if len(wh.rows) != 1 {
		t.Fatalf("expected 1 warehouse row, got %d", len(wh.rows))
	}
}

func TestProcessValidationAbortsWithoutWrites(t *testing.T) {
	objects := newFakeObjects()
	wh := newFakeWarehouse()
	p := newTestPipeline(objects, wh)

	result := sampleResult()
	result.SourceURL = ""

	err := p.Process(context.Background(), result)
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(objects.puts) != 0 || wh.inserts != 0 {
		t.Fatal("validation failure must not produce writes")
	}
	if result.Storage != nil {
		t.Fatal("storage must stay empty on failure")
	}
}

func TestProcessStageFailureRecordedInHistory(t *testing.T) {
	objects := newFakeObjects()
	wh := newFakeWarehouse()
	wh.fail = true
	p := newTestPipeline(objects, wh)

	result := sampleResult()
	err := p.Process(context.Background(), result)
	if err == nil {
		t.Fatal("expected warehouse failure to surface")
	}

	var failure *models.ProcessingRecord
	for i := range result.Metadata.ProcessingHistory {
		if result.Metadata.ProcessingHistory[i].Status == models.ProcessingFailure {
			failure = &result.Metadata.ProcessingHistory[i]
		}
	}
	if failure == nil {
		t.Fatal("expected a FAILURE entry in processing history")
	}
	if failure.Operation != "persist_warehouse" {
		t.Fatalf("expected persist_warehouse failure, got %s", failure.Operation)
	}
	if failure.Error == "" {
		t.Fatal("expected the failure entry to carry the error")
	}
	if result.Storage != nil {
		t.Fatal("storage must not be populated when persistence fails")
	}
}

func TestWarehouseInsertIdempotent(t *testing.T) {
	objects := newFakeObjects()
	wh := newFakeWarehouse()
	p := newTestPipeline(objects, wh)

	first := sampleResult()
	if err := p.Process(context.Background(), first); err != nil {
		t.Fatalf("first process: %v", err)
	}
	// Replay with the same result id, as a retry after partial failure would.
	second := sampleResult()
	if err := p.Process(context.Background(), second); err != nil {
		t.Fatalf("second process: %v", err)
	}

	if wh.inserts != 2 {
		t.Fatalf("expected 2 insert attempts, got %d", wh.inserts)
	}
	if len(wh.rows) != 1 {
		t.Fatalf("replay must not create a second logical row, got %d", len(wh.rows))
	}
}

func TestProcessObservesCancellation(t *testing.T) {
	objects := newFakeObjects()
	wh := newFakeWarehouse()
	p := newTestPipeline(objects, wh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := sampleResult()
	if err := p.Process(ctx, result); err == nil {
		t.Fatal("expected cancellation to abort processing")
	}
	if result.Storage != nil {
		t.Fatal("cancelled run must not populate storage")
	}
}
