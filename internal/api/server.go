// Package api is the thin HTTP boundary mapping external requests onto the
// orchestration and scheduler operations.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"scrape-orchestrator/internal/apperr"
	"scrape-orchestrator/internal/models"
	"scrape-orchestrator/internal/schedule"
	"scrape-orchestrator/internal/service"
	"scrape-orchestrator/internal/telemetry"
)

// Server wires HTTP handlers for the orchestrator.
type Server struct {
	svc       *service.Service
	scheduler *schedule.Scheduler
}

// New constructs the API server.
func New(svc *service.Service, scheduler *schedule.Scheduler) *Server {
	return &Server{svc: svc, scheduler: scheduler}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleStartJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/stop", s.handleStopJob)
	r.Get("/jobs/{id}/result", s.handleGetResult)
	r.Get("/schedules", s.handleListSchedules)
	r.Post("/triggers/{jobID}", s.handleTrigger)
	return r
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var cfg models.ScrapingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	job, err := s.svc.StartJob(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	if job.Status == models.StatusPending {
		// Manual starts execute immediately, detached from this request.
		go func(id string) {
			if err := s.svc.ExecuteJob(context.Background(), id); err != nil {
				log.Printf("[JOB %s] execution error: %v", id, err)
			}
		}(job.ID)
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.StopJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.svc.GetJobResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.svc.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.scheduler.List()})
}

// handleTrigger is the callback target registered with the external
// scheduling service. Delivery is at-least-once; a second delivery for a job
// already running is rejected by the state machine. The execution runs
// detached from the callback request, the same as manual starts — the
// external scheduler only needs the 202.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, ok := s.scheduler.Lookup(jobID); !ok {
		writeError(w, apperr.New(apperr.CodeNotFound, "api.trigger", "no active schedule for job %s", jobID))
		return
	}
	go func() {
		if err := s.scheduler.HandleTrigger(context.Background(), jobID); err != nil {
			log.Printf("[JOB %s] trigger execution error: %v", jobID, err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func filterFromQuery(r *http.Request) (models.JobFilter, error) {
	q := r.URL.Query()
	filter := models.JobFilter{Page: 1, PageSize: 20}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, apperr.New(apperr.CodeValidation, "api.list", "invalid page %q", v)
		}
		filter.Page = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, apperr.New(apperr.CodeValidation, "api.list", "invalid page_size %q", v)
		}
		filter.PageSize = n
	}
	if v := q.Get("status"); v != "" {
		status := models.JobStatus(v)
		filter.Status = &status
	}
	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperr.New(apperr.CodeValidation, "api.list", "invalid start_date %q", v)
		}
		filter.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperr.New(apperr.CodeValidation, "api.list", "invalid end_date %q", v)
		}
		filter.EndDate = &t
	}
	return filter, nil
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeValidation:
		status = http.StatusBadRequest
	case apperr.CodeNotFound:
		status = http.StatusNotFound
	case apperr.CodeInvalidState, apperr.CodeConflict:
		status = http.StatusConflict
	case apperr.CodeRateLimited:
		status = http.StatusTooManyRequests
	case apperr.CodeCircuitOpen:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(code)})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
