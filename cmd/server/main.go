package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"scrape-orchestrator/internal/api"
	"scrape-orchestrator/internal/collect"
	"scrape-orchestrator/internal/config"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/pipeline"
	"scrape-orchestrator/internal/resilience"
	"scrape-orchestrator/internal/schedule"
	"scrape-orchestrator/internal/service"
	"scrape-orchestrator/internal/storage"
	"scrape-orchestrator/internal/store"
	"scrape-orchestrator/internal/telemetry"
	"scrape-orchestrator/internal/warehouse"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found")
	}
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	wh, err := warehouse.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect warehouse: %v", err)
	}
	defer wh.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := resilience.NewLimiter(redisClient, cfg.APIRateMaxRequests, cfg.APIRateWindow)

	breakerCfg := resilience.BreakerConfig{
		ErrorThreshold: cfg.BreakerErrorThreshold,
		MinSamples:     cfg.BreakerMinSamples,
		Window:         cfg.BreakerWindow,
		ResetTimeout:   cfg.BreakerResetTimeout,
	}
	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	newWrapper := func(name string, lim *resilience.Limiter, retry resilience.RetryConfig) *resilience.Wrapper {
		br := resilience.NewBreaker(name, breakerCfg)
		br.OnStateChange = func(dep string, from, to resilience.BreakerState) {
			log.Printf("[BREAKER %s] %s -> %s", dep, from, to)
			telemetry.ObserveBreaker()(dep, from, to)
		}
		return resilience.NewWrapper(name, lim, br, retry)
	}

	// One wrapper per downstream dependency, shared across all executions.
	schedulerWrapper := newWrapper("scheduler", nil, retryCfg)
	storageWrapper := newWrapper("object-storage", nil, retryCfg)
	warehouseWrapper := newWrapper("warehouse", nil, retryCfg)
	// Public operations: rate limited and circuit broken, never retried.
	apiGuard := newWrapper("api", limiter, resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	var objects storage.ObjectStore
	if cfg.S3Endpoint != "" || cfg.Env != "dev" {
		objects, err = storage.NewS3(ctx, cfg)
		if err != nil {
			log.Fatalf("init object storage: %v", err)
		}
	} else {
		objects = storage.NewFilesystem(cfg.StorageDir)
	}

	pipe := pipeline.New(pipeline.Config{
		RawBucket:        cfg.RawBucket,
		ProcessedBucket:  cfg.ProcessedBucket,
		WarehouseTable:   cfg.WarehouseTable,
		SchemaVersion:    cfg.SchemaVersion,
		EncryptionKeyRef: cfg.EncryptionKeyRef,
	}, objects, wh, pipeline.DefaultScorers(), storageWrapper, warehouseWrapper)

	triggers := schedule.NewHTTPTriggerService(cfg.SchedulerEndpoint, 10*time.Second)
	scheduler := schedule.New(triggers, schedule.NewRegistry(), st, schedulerWrapper, cfg.TriggerCallbackURL, schedule.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		MinBackoff:  cfg.RetryBaseDelay,
		MaxBackoff:  cfg.RetryMaxDelay,
	})

	svc := service.New(st, scheduler, pipe, apiGuard)
	svc.RegisterStrategy(models.SourceWebsite, collect.NewWebsite(cfg.CollectTimeout, cfg.CollectMaxBytes, cfg.UserAgent))
	scheduler.SetExecutor(svc)

	server := api.New(svc, scheduler)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("orchestrator listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
