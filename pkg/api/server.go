// Package api exposes projects, deploys and teardowns over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/orchestrator"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/rs/zerolog"
)

// UserHeader carries the caller identity.
const UserHeader = "X-User-ID"

// Deployer runs deploys and teardowns.
type Deployer interface {
	Deploy(ctx context.Context, req orchestrator.DeployRequest) (*engine.DeploymentResult, error)
	Teardown(ctx context.Context, req orchestrator.TeardownRequest) (*orchestrator.TeardownResult, error)
	Status(ctx context.Context, projectID, userID string, limit int) (*orchestrator.StatusView, error)
}

// ActivityLog lists activity entries.
type ActivityLog interface {
	ListActivities(ctx context.Context, filter stores.ActivityFilter) ([]*engine.Activity, error)
}

// RepositoryBrowser reads repository metadata from the source host.
type RepositoryBrowser interface {
	ListRepositories(ctx context.Context, token string, page, perPage int) ([]source.Repository, error)
	Repository(ctx context.Context, owner, repo, token string) (*source.Repository, error)
}

// HealthChecker reports backend health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds API server configuration.
type Config struct {
	Listen string
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	projects   *orchestrator.Projects
	deployer   Deployer
	activities ActivityLog
	health     HealthChecker
	metrics    http.Handler
	repos      RepositoryBrowser
	secrets    engine.SecretResolver
	logger     zerolog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server. metrics and health may be nil.
func New(cfg Config, projects *orchestrator.Projects, deployer Deployer, activities ActivityLog, health HealthChecker, metrics http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		config:     cfg,
		projects:   projects,
		deployer:   deployer,
		activities: activities,
		health:     health,
		metrics:    metrics,
		logger:     logger.With().Str("component", "api").Logger(),
		startedAt:  time.Now(),
	}
}

// WithRepositories serves the /repositories routes. Lookups use the caller's
// source credential from secrets.
func (s *Server) WithRepositories(repos RepositoryBrowser, secrets engine.SecretResolver) *Server {
	s.repos, s.secrets = repos, secrets
	return s
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Deploys run inside the request.
		WriteTimeout: 45 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("listen", s.config.Listen).Msg("API server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/projects", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Delete("/", s.handleTeardown)
			r.Post("/deploy", s.handleDeploy)
			r.Get("/deployments", s.handleDeployments)
			r.Get("/activities", s.handleActivities)
			r.Put("/env/{key}", s.handleSetEnv)
			r.Delete("/env/{key}", s.handleDeleteEnv)
		})
	})
	if s.repos != nil {
		r.Route("/repositories", func(r chi.Router) {
			r.Use(s.requireUser)
			r.Get("/", s.handleListRepositories)
			r.Get("/{owner}/{repo}", s.handleGetRepository)
		})
	}
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type userKey struct{}

// requireUser rejects requests without a caller identity.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey{}).(string)
	return user
}
