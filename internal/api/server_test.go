package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scrape-orchestrator/internal/collect"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/pipeline"
	"scrape-orchestrator/internal/resilience"
	"scrape-orchestrator/internal/schedule"
	"scrape-orchestrator/internal/service"
	"scrape-orchestrator/internal/storage"
	"scrape-orchestrator/internal/store"
	"scrape-orchestrator/internal/warehouse"
)

type acceptAllTriggers struct{}

func (acceptAllTriggers) RegisterTrigger(context.Context, string, string, string, string, schedule.RetryPolicy) error {
	return nil
}

func (acceptAllTriggers) DeregisterTrigger(context.Context, string) error { return nil }

type nullObjects struct{}

func (nullObjects) Put(_ context.Context, bucket, path string, _ []byte, _ storage.ObjectMeta) (string, error) {
	return "mem://" + bucket + "/" + path, nil
}

type nullWarehouse struct{}

func (nullWarehouse) InsertRow(context.Context, string, warehouse.Row) error { return nil }

// gatedStrategy holds every collection until released, so tests can observe
// the state of a job while its execution is still in flight.
type gatedStrategy struct {
	release chan struct{}
}

func (g *gatedStrategy) Execute(ctx context.Context, _ models.ScrapingConfig) (*collect.RawContent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return &collect.RawContent{
		Body:        []byte(`{"ok":true}`),
		ContentType: "application/json",
		ItemCount:   1,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func newTestServer(t *testing.T) (*Server, *service.Service, *gatedStrategy) {
	t.Helper()
	noRetry := resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	st := store.NewMemory()
	sched := schedule.New(acceptAllTriggers{}, schedule.NewRegistry(), st,
		resilience.NewWrapper("scheduler", nil, nil, noRetry), "http://localhost/triggers", schedule.RetryPolicy{})
	pipe := pipeline.New(pipeline.Config{
		RawBucket:       "raw",
		ProcessedBucket: "processed",
		WarehouseTable:  "scraped_results",
		SchemaVersion:   "1.0",
	}, nullObjects{}, nullWarehouse{}, pipeline.DefaultScorers(),
		resilience.NewWrapper("object-storage", nil, nil, noRetry),
		resilience.NewWrapper("warehouse", nil, nil, noRetry))

	svc := service.New(st, sched, pipe, nil)
	strategy := &gatedStrategy{release: make(chan struct{})}
	svc.RegisterStrategy(models.SourceWebsite, strategy)
	sched.SetExecutor(svc)
	return New(svc, sched), svc, strategy
}

func waitForStatus(t *testing.T, svc *service.Service, jobID string, want models.JobStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		job, err := svc.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never reached %s (last status %s)", jobID, want, job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTriggerUnknownJob(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/triggers/unknown-job", "application/json", nil)
	if err != nil {
		t.Fatalf("post trigger: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown schedule, got %d", resp.StatusCode)
	}
}

func TestTriggerRunsDetachedFromCallback(t *testing.T) {
	srv, svc, strategy := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cfg := models.ScrapingConfig{
		Source:   models.Source{URL: "https://example.com", Type: models.SourceWebsite},
		Schedule: models.Schedule{Enabled: true, CronExpression: "0 * * * *", Timezone: "UTC"},
	}
	job, err := svc.StartJob(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}

	// The callback must return while the collection is still gated.
	resp, err := http.Post(ts.URL+"/triggers/"+job.ID, "application/json", nil)
	if err != nil {
		t.Fatalf("post trigger: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	got, err := svc.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status == models.StatusCompleted || got.Status == models.StatusFailed {
		t.Fatalf("execution must still be in flight after the callback returns, got %s", got.Status)
	}

	close(strategy.release)
	waitForStatus(t, svc, job.ID, models.StatusCompleted)
}
