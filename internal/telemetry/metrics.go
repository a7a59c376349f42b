package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scrape-orchestrator/internal/resilience"
)

var (
	once sync.Once

	JobsStarted       = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_jobs_started_total", Help: "Jobs that entered RUNNING"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_jobs_completed_total", Help: "Jobs that reached COMPLETED"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_jobs_failed_total", Help: "Jobs that reached FAILED"})
	JobsCancelled     = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_jobs_cancelled_total", Help: "Jobs that were cancelled"})
	PipelineSuccess   = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_pipeline_success_total", Help: "Pipeline runs completing all stages"})
	PipelineFailures  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "scrape_pipeline_failures_total", Help: "Pipeline stage failures"}, []string{"stage"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "scrape_rate_limit_rejects_total", Help: "Calls rejected by the rate limiter"})
	InFlightJobs      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "scrape_jobs_inflight", Help: "Job executions currently running"})
	BreakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "scrape_breaker_state", Help: "Circuit state per dependency (0 closed, 1 half-open, 2 open)"}, []string{"dependency"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			PipelineSuccess,
			PipelineFailures,
			RateLimitRejects,
			InFlightJobs,
			BreakerStateGauge,
		)
	})
	return promhttp.Handler()
}

// ObserveBreaker returns a state-change callback that keeps the breaker gauge
// for one dependency current.
func ObserveBreaker() func(name string, from, to resilience.BreakerState) {
	return func(name string, _, to resilience.BreakerState) {
		var v float64
		switch to {
		case resilience.BreakerHalfOpen:
			v = 1
		case resilience.BreakerOpen:
			v = 2
		}
		BreakerStateGauge.WithLabelValues(name).Set(v)
	}
}
