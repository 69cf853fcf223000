// Package api exposes the analysis entry points over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/okatech-org/mayfin-sub002/internal/analysis"
	"github.com/okatech-org/mayfin-sub002/internal/model"
	"github.com/okatech-org/mayfin-sub002/internal/store"
)

// statusClientClosedRequest is the non-standard status for a request the
// client gave up on.
const statusClientClosedRequest = 499

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Analyzer is the service behind the routes.
type Analyzer interface {
	RunAnalysis(ctx context.Context, dossierID string) (*model.ScoringResult, error)
	ValidateQuestionnaire(responses model.Responses) model.ValidationResult
	History(ctx context.Context, dossierID string, limit int) ([]model.RunRecord, error)
	GetRun(ctx context.Context, runID string) (*model.RunRecord, error)
	Catalog() *model.Catalog
}

// Server holds the HTTP handlers.
type Server struct {
	svc            Analyzer
	allowedOrigins []string
}

// NewServer creates a Server. An empty origin list allows every origin.
func NewServer(svc Analyzer, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{svc: svc, allowedOrigins: allowedOrigins}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/dossiers/{dossierID}/analyses", s.runAnalysis)
		r.Get("/dossiers/{dossierID}/analyses", s.history)
		r.Get("/analyses/{runID}", s.getRun)
		r.Post("/questionnaire/validate", s.validate)
		r.Get("/questionnaire/catalog", s.catalog)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.RunAnalysis(r.Context(), chi.URLParam(r, "dossierID"))
	if err != nil {
		var perr *analysis.PipelineError
		if !errors.As(err, &perr) {
			writeError(w, http.StatusInternalServerError, "analysis failed")
			return
		}
		writeJSON(w, pipelineStatus(perr.Kind), map[string]any{"error": perr})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// pipelineStatus maps a pipeline error kind onto an HTTP status.
func pipelineStatus(kind analysis.Kind) int {
	switch kind {
	case analysis.KindPrecondition, analysis.KindExtraction:
		return http.StatusUnprocessableEntity
	case analysis.KindFinancial:
		return http.StatusBadGateway
	case analysis.KindCancelled:
		return statusClientClosedRequest
	case analysis.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.svc.History(r.Context(), chi.URLParam(r, "dossierID"), limit)
	if err != nil {
		zap.L().Error("api: history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.GetRun(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		zap.L().Error("api: get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "run unavailable")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

type validateRequest struct {
	Responses model.Responses `json:"responses"`
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.ValidateQuestionnaire(req.Responses))
}

func (s *Server) catalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Catalog())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
