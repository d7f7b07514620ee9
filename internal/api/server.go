// Package api serves the webhook ingestion endpoint and the operational
// routes of the webhook process.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
	"github.com/ahrav/pushwatch/pkg/common/otel"
)

// JobEnqueuer schedules push scans and repository sweeps.
type JobEnqueuer interface {
	EnqueuePushEvent(ctx context.Context, ev domain.PushEvent) (uuid.UUID, error)
	EnqueueRepositoryReconcile(ctx context.Context, installationID int64, repo domain.Repository) (uuid.UUID, error)
}

// RiskCleaner removes the risks of uninstalled installations and removed
// repositories.
type RiskCleaner interface {
	DeleteRisksForInstallation(ctx context.Context, installationID int64) (int64, error)
	DeleteRisksForRepository(ctx context.Context, repositoryID int64) (int64, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the dependencies of the server.
type Config struct {
	Addr          string
	WebhookSecret string

	Enqueuer   JobEnqueuer
	Cleaner    RiskCleaner
	FailedJobs jobs.FailedJobStore
	// Readiness is optional; without it readiness always succeeds.
	Readiness Pinger

	Logger         *logger.Logger
	Metrics        APIMetrics
	TracerProvider trace.TracerProvider
}

type Server struct {
	cfg    Config
	logger *logger.Logger
	router *chi.Mux
	tracer trace.Tracer
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("webhook secret is required")
	}

	log := cfg.Logger.With("component", "webhook_server")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(cfg.TracerProvider))
	r.Use(loggerMiddleware(log, cfg.Metrics))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:    cfg,
		logger: log,
		router: r,
		tracer: cfg.TracerProvider.Tracer("webhook-server"),
	}

	s.routes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func loggerMiddleware(log *logger.Logger, metrics APIMetrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				metrics.IncRequestsTotal(ctx, r.Method, routePattern(r), ww.Status())
				metrics.ObserveRequestDuration(ctx, r.Method, routePattern(r), time.Since(start))
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// routePattern avoids unbounded metric cardinality from raw paths.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Post("/webhooks/github", s.handleGitHubWebhook)
		r.Get("/jobs/failed", s.handleListFailedJobs)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Readiness == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Readiness.Ping(ctx); err != nil {
		s.logger.Warn(ctx, "Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type failedJobResponse struct {
	ID       uuid.UUID       `json:"id"`
	Type     jobs.Type       `json:"type"`
	Attempt  int             `json:"attempt"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failedAt"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) handleListFailedJobs(w http.ResponseWriter, r *http.Request) {
	failed, err := s.cfg.FailedJobs.List(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "failed to list failed jobs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := make([]failedJobResponse, 0, len(failed))
	for _, f := range failed {
		resp = append(resp, failedJobResponse{
			ID:       f.Job.ID,
			Type:     f.Job.Type,
			Attempt:  f.Job.Attempt,
			Error:    f.Error,
			FailedAt: f.FailedAt,
			Payload:  f.Job.Payload,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(s.logger, logger.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
