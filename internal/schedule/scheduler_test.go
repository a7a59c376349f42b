package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/resilience"
)

type fakeTriggers struct {
	mu           sync.Mutex
	registered   map[string]string // scheduleID -> cron
	deregistered []string
	failRegister bool
	failDeregist bool
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{registered: make(map[string]string)}
}

func (f *fakeTriggers) RegisterTrigger(_ context.Context, scheduleID, cronExpr, _, _ string, _ RetryPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRegister {
		return apperr.New(apperr.CodeTransient, "fake.register", "scheduler down")
	}
	f.registered[scheduleID] = cronExpr
	return nil
}

func (f *fakeTriggers) DeregisterTrigger(_ context.Context, scheduleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeregist {
		return apperr.New(apperr.CodeTransient, "fake.deregister", "scheduler down")
	}
	f.deregistered = append(f.deregistered, scheduleID)
	delete(f.registered, scheduleID)
	return nil
}

type fakeJobCreator struct {
	mu   sync.Mutex
	jobs []models.Job
	fail error
}

func (f *fakeJobCreator) Create(_ context.Context, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeExecutor struct {
	mu  sync.Mutex
	ran []string
}

func (f *fakeExecutor) ExecuteJob(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, jobID)
	return nil
}

func noRetryWrapper() *resilience.Wrapper {
	return resilience.NewWrapper("scheduler", nil, nil, resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func scheduledConfig() models.ScrapingConfig {
	return models.ScrapingConfig{
		Source: models.Source{URL: "https://example.com", Type: models.SourceWebsite},
		Schedule: models.Schedule{
			Enabled:        true,
			CronExpression: "0 * * * *",
			Timezone:       "UTC",
		},
	}
}

func TestValidateSchedule(t *testing.T) {
	cases := []struct {
		name  string
		sched models.Schedule
		valid bool
	}{
		{"valid", models.Schedule{Enabled: true, CronExpression: "*/5 * * * *", Timezone: "UTC"}, true},
		{"descriptor", models.Schedule{Enabled: true, CronExpression: "@hourly", Timezone: "America/New_York"}, true},
		{"disabled", models.Schedule{Enabled: false, CronExpression: "* * * * *", Timezone: "UTC"}, false},
		{"bad cron", models.Schedule{Enabled: true, CronExpression: "not a cron", Timezone: "UTC"}, false},
		{"missing timezone", models.Schedule{Enabled: true, CronExpression: "* * * * *"}, false},
		{"bad timezone", models.Schedule{Enabled: true, CronExpression: "* * * * *", Timezone: "Mars/Olympus"}, false},
	}
	for _, tc := range cases {
		err := ValidateSchedule(tc.sched)
		if tc.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.valid && !apperr.Is(err, apperr.CodeValidation) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestScheduleRegistersTriggerAndMetadata(t *testing.T) {
	triggers := newFakeTriggers()
	creator := &fakeJobCreator{}
	s := New(triggers, NewRegistry(), creator, noRetryWrapper(), "http://localhost/triggers", RetryPolicy{MaxAttempts: 3})

	job, err := s.Schedule(context.Background(), scheduledConfig())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if job.Status != models.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", job.Status)
	}
	if len(triggers.registered) != 1 {
		t.Fatalf("expected 1 registered trigger, got %d", len(triggers.registered))
	}
	if len(creator.jobs) != 1 {
		t.Fatalf("expected 1 persisted job, got %d", len(creator.jobs))
	}

	meta, ok := s.registry.Get(job.ID)
	if !ok {
		t.Fatal("expected schedule metadata for job")
	}
	if meta.CronExpression != "0 * * * *" || meta.Timezone != "UTC" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if got := s.List(); len(got) != 1 {
		t.Fatalf("expected 1 active schedule, got %d", len(got))
	}
}

func TestScheduleRejectsBadCron(t *testing.T) {
	triggers := newFakeTriggers()
	s := New(triggers, NewRegistry(), &fakeJobCreator{}, noRetryWrapper(), "cb", RetryPolicy{})

	cfg := scheduledConfig()
	cfg.Schedule.CronExpression = "99 99 * * *"
	_, err := s.Schedule(context.Background(), cfg)
	if !apperr.Is(err, apperr.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(triggers.registered) != 0 {
		t.Fatal("invalid schedule must not reach the trigger service")
	}
}

func TestScheduleCompensatesWhenCreateFails(t *testing.T) {
	triggers := newFakeTriggers()
	creator := &fakeJobCreator{fail: apperr.New(apperr.CodePersistence, "fake.create", "db down")}
	s := New(triggers, NewRegistry(), creator, noRetryWrapper(), "cb", RetryPolicy{})

	_, err := s.Schedule(context.Background(), scheduledConfig())
	if err == nil {
		t.Fatal("expected the create failure to surface")
	}
	if len(triggers.deregistered) != 1 {
		t.Fatalf("expected the live trigger to be deregistered, got %d deregistrations", len(triggers.deregistered))
	}
	if len(triggers.registered) != 0 {
		t.Fatalf("expected no trigger left registered, got %d", len(triggers.registered))
	}
	if got := s.List(); len(got) != 0 {
		t.Fatalf("no metadata must be stored for a failed schedule, got %d", len(got))
	}
}

func TestHandleTrigger(t *testing.T) {
	triggers := newFakeTriggers()
	executor := &fakeExecutor{}
	s := New(triggers, NewRegistry(), &fakeJobCreator{}, noRetryWrapper(), "cb", RetryPolicy{})
	s.SetExecutor(executor)

	job, err := s.Schedule(context.Background(), scheduledConfig())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.HandleTrigger(context.Background(), job.ID); err != nil {
		t.Fatalf("handle trigger: %v", err)
	}
	if len(executor.ran) != 1 || executor.ran[0] != job.ID {
		t.Fatalf("expected execution of %s, got %v", job.ID, executor.ran)
	}

	err = s.HandleTrigger(context.Background(), "unknown-job")
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NotFound for unknown job, got %v", err)
	}
}

func TestUnschedule(t *testing.T) {
	triggers := newFakeTriggers()
	s := New(triggers, NewRegistry(), &fakeJobCreator{}, noRetryWrapper(), "cb", RetryPolicy{})

	job, err := s.Schedule(context.Background(), scheduledConfig())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.Unschedule(context.Background(), job.ID); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	if _, ok := s.registry.Get(job.ID); ok {
		t.Fatal("metadata must be removed after unschedule")
	}
	if len(triggers.deregistered) != 1 {
		t.Fatalf("expected 1 deregistration, got %d", len(triggers.deregistered))
	}

	err = s.Unschedule(context.Background(), job.ID)
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected NotFound on second unschedule, got %v", err)
	}
}

func TestUnscheduleRetainsMetadataOnFailure(t *testing.T) {
	triggers := newFakeTriggers()
	s := New(triggers, NewRegistry(), &fakeJobCreator{}, noRetryWrapper(), "cb", RetryPolicy{})

	job, err := s.Schedule(context.Background(), scheduledConfig())
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	triggers.failDeregist = true
	if err := s.Unschedule(context.Background(), job.ID); err == nil {
		t.Fatal("expected deregistration failure to surface")
	}
	if _, ok := s.registry.Get(job.ID); !ok {
		t.Fatal("metadata must be retained when deregistration fails")
	}

	// The retained metadata makes a retry possible.
	triggers.failDeregist = false
	if err := s.Unschedule(context.Background(), job.ID); err != nil {
		t.Fatalf("retry unschedule: %v", err)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%10))
			r.Put(Metadata{JobID: id, ScheduleID: "s-" + id, RegisteredAt: time.Now()})
			r.Get(id)
			r.List()
		}(i)
	}
	wg.Wait()
	if len(r.List()) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(r.List()))
	}
}
