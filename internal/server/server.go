// Package server exposes the analysis pipeline over HTTP: webhook-triggered
// runs, manual fact ingestion, run lookup, and operational metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/credits"
	"github.com/sells-group/diligence-cli/internal/facts"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/monitoring"
	"github.com/sells-group/diligence-cli/internal/orchestrator"
	"github.com/sells-group/diligence-cli/internal/store"
)

// Analyzer runs the full pipeline for a deal. Satisfied by the orchestrator.
type Analyzer interface {
	RunFullAnalysis(ctx context.Context, deal model.Deal, docs []model.Document, opts orchestrator.Options) (*model.AnalysisRun, error)
}

// CreditConsumer charges an organization for pipeline work. Satisfied by the
// credit ledger; nil disables credit enforcement (local sqlite mode).
type CreditConsumer interface {
	Consume(ctx context.Context, orgID string, n int64) error
}

// Config holds server tuning parameters.
type Config struct {
	Port              int
	RunCost           int64
	MaxConcurrentRuns int
}

// Server is the HTTP front end.
type Server struct {
	store     store.Store
	analyzer  Analyzer
	rec       *facts.Reconciler
	credits   CreditConsumer
	collector *monitoring.Collector
	cfg       Config

	sem     chan struct{}
	baseCtx context.Context
}

// New creates a Server. credits and collector may be nil.
func New(st store.Store, analyzer Analyzer, rec *facts.Reconciler, cc CreditConsumer, collector *monitoring.Collector, cfg Config) *Server {
	concurrency := cfg.MaxConcurrentRuns
	if concurrency < 1 {
		concurrency = 1
	}
	return &Server{
		store:     st,
		analyzer:  analyzer,
		rec:       rec,
		credits:   cc,
		collector: collector,
		cfg:       cfg,
		sem:       make(chan struct{}, concurrency),
		baseCtx:   context.Background(),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/webhook/analyze", s.handleAnalyze)
	r.Get("/runs/{runID}", s.handleGetRun)
	r.Post("/deals/{dealID}/facts", s.handleIngestFacts)

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully. Analyses
// kicked off by webhooks run on ctx, so in-flight work is released with the
// server.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusNotFound, "metrics not enabled")
		return
	}

	lookback := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		lookback = n
	}

	snap, err := s.collector.Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("server: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect metrics")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type analyzeRequest struct {
	DealID    string           `json:"deal_id"`
	Documents []model.Document `json:"documents,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DealID == "" {
		writeError(w, http.StatusBadRequest, "deal_id is required")
		return
	}

	ctx := r.Context()
	deal, err := s.store.GetDeal(ctx, req.DealID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deal not found")
			return
		}
		zap.L().Error("server: get deal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load deal")
		return
	}

	if len(req.Documents) > 0 {
		if err := s.store.SaveDocuments(ctx, deal.ID, req.Documents); err != nil {
			zap.L().Error("server: save documents", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save documents")
			return
		}
	}

	docs, err := s.store.Documents(ctx, deal.ID)
	if err != nil {
		zap.L().Error("server: load documents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load documents")
		return
	}
	if len(docs) == 0 {
		writeError(w, http.StatusBadRequest, "deal has no documents")
		return
	}

	if s.credits != nil {
		switch err := s.credits.Consume(ctx, deal.OrgID, s.cfg.RunCost); {
		case err == nil:
		case errors.Is(err, credits.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient credits")
			return
		case errors.Is(err, credits.ErrUnknownOrg):
			writeError(w, http.StatusBadRequest, "unknown organization")
			return
		default:
			zap.L().Error("server: consume credits", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to charge credits")
			return
		}
	}

	run, err := s.store.CreateRun(ctx, deal.ID)
	if err != nil {
		zap.L().Error("server: create run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	go s.runAnalysis(run.ID, *deal, docs)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  run.ID,
		"deal_id": deal.ID,
		"status":  string(model.RunStatusQueued),
	})
}

// runAnalysis executes one webhook-triggered analysis on the server's base
// context, bounded by the concurrency semaphore.
func (s *Server) runAnalysis(runID string, deal model.Deal, docs []model.Document) {
	ctx := s.baseCtx
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return
	}

	log := zap.L().With(zap.String("run", runID), zap.String("deal", deal.ID))

	if err := s.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
		log.Error("server: mark run running", zap.Error(err))
		return
	}

	result, err := s.analyzer.RunFullAnalysis(ctx, deal, docs, orchestrator.Options{
		OnWarning: func(warning model.EarlyWarning) {
			log.Warn("early warning",
				zap.String("agent", string(warning.AgentID)),
				zap.String("severity", string(warning.Severity)),
				zap.String("title", warning.Title),
			)
		},
	})
	if err != nil {
		log.Error("server: analysis failed", zap.Error(err))
		if uerr := s.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed); uerr != nil {
			log.Error("server: mark run failed", zap.Error(uerr))
		}
		return
	}

	// The run row owns identity; the pipeline result is folded into it.
	result.ID = runID
	result.DealID = deal.ID
	if err := s.store.SaveRunResult(ctx, result); err != nil {
		log.Error("server: save run result", zap.Error(err))
		return
	}
	log.Info("analysis complete",
		zap.String("status", string(result.Status)),
		zap.Float64("cost_usd", result.TotalCostUSD),
	)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		zap.L().Error("server: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type ingestRequest struct {
	Facts []model.Fact `json:"facts"`
}

type ingestResponse struct {
	Accepted       int                   `json:"accepted"`
	Contradictions []model.Contradiction `json:"contradictions,omitempty"`
	Notes          []facts.Note          `json:"notes,omitempty"`
}

func (s *Server) handleIngestFacts(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Facts) == 0 {
		writeError(w, http.StatusBadRequest, "facts is required")
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetDeal(ctx, dealID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deal not found")
			return
		}
		zap.L().Error("server: get deal", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load deal")
		return
	}

	existing, err := s.store.CurrentFacts(ctx, dealID)
	if err != nil {
		zap.L().Error("server: load facts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load current facts")
		return
	}

	res, err := s.rec.Ingest(req.Facts, existing)
	if err != nil {
		zap.L().Error("server: ingest facts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reconcile facts")
		return
	}

	byKey := make(map[model.FactKey]*model.CurrentFact, len(existing))
	for i := range existing {
		byKey[existing[i].Key] = &existing[i]
	}
	contradictions := make(map[model.FactKey]*model.Contradiction, len(res.Contradictions))
	for i := range res.Contradictions {
		contradictions[res.Contradictions[i].Key] = &res.Contradictions[i]
	}

	now := time.Now().UTC()
	for _, fact := range res.Accepted {
		next := facts.Apply(byKey[fact.Key], dealID, fact, contradictions[fact.Key], now)
		if err := s.store.ReplaceCurrentFact(ctx, next); err != nil {
			zap.L().Error("server: persist fact", zap.String("key", string(fact.Key)), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to persist facts")
			return
		}
		byKey[fact.Key] = next
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Accepted:       len(res.Accepted),
		Contradictions: res.Contradictions,
		Notes:          res.Notes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
