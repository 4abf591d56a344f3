package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/orchestrator"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/stores"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.logger.Error().Err(err).Msg("Health check failed")
			writeError(w, http.StatusServiceUnavailable, "UNHEALTHY", "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("archived") == "true"
	projects, err := s.projects.List(r.Context(), userFrom(r), all)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, engine.ErrCodeValidation, "invalid JSON body")
		return
	}
	p := &engine.Project{
		Name:          req.Name,
		Description:   req.Description,
		RepositoryURL: req.RepositoryURL,
		Branch:        req.Branch,
		ProjectType:   req.ProjectType,
		BuildCommand:  req.BuildCommand,
		StartCommand:  req.StartCommand,
		EnvVars:       req.EnvVars,
		Settings:      req.Settings,
	}
	if err := s.projects.Create(r.Context(), userFrom(r), p); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse(p))
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse(p))
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	res, err := s.deployer.Deploy(r.Context(), orchestrator.DeployRequest{
		ProjectID: chi.URLParam(r, "id"),
		UserID:    userFrom(r),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeployResponse{URL: res.URL(), Outputs: res.Outputs})
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	res, err := s.deployer.Teardown(r.Context(), orchestrator.TeardownRequest{
		ProjectID: chi.URLParam(r, "id"),
		UserID:    userFrom(r),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := TeardownResponse{ProjectID: res.ProjectID, StackID: res.StackID}
	if res.DestroyErr != nil {
		out.DestroyError = res.DestroyErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	view, err := s.deployer.Status(r.Context(), chi.URLParam(r, "id"), userFrom(r), queryLimit(r, 20))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view.Attempts)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(r.Context(), userFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	acts, err := s.activities.ListActivities(r.Context(), stores.ActivityFilter{
		ProjectID: p.ID,
		Limit:     queryLimit(r, 100),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	var req SetEnvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, engine.ErrCodeValidation, "invalid JSON body")
		return
	}
	err := s.projects.SetEnvVar(r.Context(), userFrom(r), chi.URLParam(r, "id"), engine.EnvVar{
		Key:      chi.URLParam(r, "key"),
		Value:    req.Value,
		IsSecret: req.IsSecret,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEnv(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.DeleteEnvVar(r.Context(), userFrom(r), chi.URLParam(r, "id"), chi.URLParam(r, "key")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	token, err := s.secrets.SourceToken(r.Context(), userFrom(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", source.DefaultPerPage)
	repos, err := s.repos.ListRepositories(r.Context(), token, page, perPage)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RepositoryListResponse{Repositories: repos, Page: page, PerPage: perPage})
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	token, err := s.secrets.SourceToken(r.Context(), userFrom(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	repo, err := s.repos.Repository(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), token)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryLimit(r *http.Request, def int) int {
	return queryInt(r, "limit", def)
}

// statusFor maps an error code onto an HTTP status.
func statusFor(err error) int {
	switch engine.CodeOf(err) {
	case engine.ErrCodeValidation:
		return http.StatusBadRequest
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	case engine.ErrCodePermissionDenied:
		return http.StatusForbidden
	case engine.ErrCodeConflict:
		return http.StatusConflict
	case engine.ErrCodeSourceAuth:
		return http.StatusFailedDependency
	case engine.ErrCodeSourceNotFound:
		return http.StatusUnprocessableEntity
	case engine.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case engine.ErrCodeEngineUnavailable, engine.ErrCodeSourceUnavailable:
		return http.StatusServiceUnavailable
	case engine.ErrCodeProvision, engine.ErrCodeStage, engine.ErrCodeImageBuild:
		return http.StatusBadGateway
	case engine.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := engine.CodeOf(err)
	msg := err.Error()
	if code == "" {
		code = engine.ErrCodeInternal
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
