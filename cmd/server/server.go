package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/loyaltyops/accrual-core/extract"
	"github.com/loyaltyops/accrual-core/internal/logger"
	"github.com/loyaltyops/accrual-core/jobs"
	"github.com/loyaltyops/accrual-core/processor"
	"github.com/loyaltyops/accrual-core/rules"
	"github.com/loyaltyops/accrual-core/transaction"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// Server is the HTTP surface over the accrual core: ad-hoc evaluation,
// job management and the failed-transaction retry path.
type Server struct {
	ping      pinger
	ruleSets  rules.Store
	txns      transaction.Store
	jobStore  jobs.Store
	execs     jobs.ExecutionStore
	orch      *jobs.Orchestrator
	processor *processor.Processor
	logger    logger.Interface
	router    *chi.Mux
}

func NewServer(
	ping pinger,
	ruleSets rules.Store,
	txns transaction.Store,
	jobStore jobs.Store,
	execs jobs.ExecutionStore,
	orch *jobs.Orchestrator,
	proc *processor.Processor,
	log logger.Interface,
) *Server {
	s := &Server{
		ping:      ping,
		ruleSets:  ruleSets,
		txns:      txns,
		jobStore:  jobStore,
		execs:     execs,
		orch:      orch,
		processor: proc,
		logger:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)

		r.Route("/{jobId}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Post("/start", s.handleStartJob)
			r.Post("/stop", s.handleStopJob)
			r.Get("/executions", s.handleListExecutions)
		})
	})

	r.Get("/api/v1/executions/{executionId}", s.handleGetExecution)
	r.Post("/api/v1/campaigns/{campaignId}/retry-failed", s.handleRetryFailed)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleEvaluate runs a campaign's rule set against a transaction
// supplied in the request body. Nothing is persisted and no accrual is
// dispatched; the full audit trail comes back in the response.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CampaignID == "" {
		respondError(w, http.StatusBadRequest, "campaignId is required", nil)
		return
	}

	ruleSet, err := s.ruleSets.Get(r.Context(), req.CampaignID)
	if err != nil {
		if errors.Is(err, rules.ErrRuleSetNotFound) {
			respondError(w, http.StatusNotFound, "rule set not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load rule set", err)
		return
	}

	txn := &transaction.Transaction{
		ID:           uuid.NewString(),
		CampaignID:   req.CampaignID,
		ExternalID:   req.Transaction.ExternalID,
		ExternalType: req.Transaction.ExternalType,
		UserID:       req.Transaction.UserID,
		Data:         req.Transaction.Data,
	}

	start := time.Now()
	result := s.processor.Process(txn, ruleSet)

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Result:         result,
		EvaluationTime: time.Since(start).String(),
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CampaignID == "" {
		respondError(w, http.StatusBadRequest, "campaignId is required", nil)
		return
	}

	job := &jobs.Job{
		CampaignID:       req.CampaignID,
		Type:             req.Type,
		Schedule:         req.Schedule,
		IsRecurring:      req.IsRecurring,
		DataSourceConfig: req.DataSourceConfig,
		BatchSize:        req.BatchSize,
		MaxConcurrency:   req.MaxConcurrency,
	}

	// Extraction jobs fail here, not mid-run, on a bad source config.
	if job.Type == jobs.TypeInitialLoad || job.Type == jobs.TypeIncrementalUpdate {
		if _, err := extract.ParseSourceConfig(job.DataSourceConfig); err != nil {
			respondError(w, http.StatusBadRequest, "invalid data source config", err)
			return
		}
	}

	if err := s.orch.Create(r.Context(), job); err != nil {
		if errors.Is(err, jobs.ErrUnknownJobType) {
			respondError(w, http.StatusBadRequest, "unknown job type", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to create job", err)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get job", err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	exec, err := s.orch.Start(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			respondError(w, http.StatusNotFound, "job not found", nil)
		case errors.Is(err, jobs.ErrJobAlreadyRunning):
			respondError(w, http.StatusConflict, "job already running", err)
		case errors.Is(err, jobs.ErrUnknownJobType):
			respondError(w, http.StatusBadRequest, "unknown job type", err)
		default:
			respondError(w, http.StatusInternalServerError, "failed to start job", err)
		}
		return
	}
	respondJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(r.Context(), chi.URLParam(r, "jobId")); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to stop job", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if _, err := s.jobStore.Get(r.Context(), jobID); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "job not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get job", err)
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	execs, err := s.execs.ListByJob(r.Context(), jobID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	if execs == nil {
		execs = []*jobs.Execution{}
	}

	respondJSON(w, http.StatusOK, ExecutionsResponse{
		Executions: execs,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.execs.Get(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		if errors.Is(err, jobs.ErrExecutionNotFound) {
			respondError(w, http.StatusNotFound, "execution not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get execution", err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// handleRetryFailed moves FAILED transactions with retry budget left
// back to PENDING so the next processing run picks them up.
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignId")

	reset, err := s.txns.ResetFailed(r.Context(), campaignID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reset transactions", err)
		return
	}

	s.logger.Info("failed transactions reset", "campaign_id", campaignID, "count", reset)
	respondJSON(w, http.StatusOK, RetryFailedResponse{TransactionsReset: reset})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
