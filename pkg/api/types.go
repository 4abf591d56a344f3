package api

import (
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/source"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthzResponse is the body of GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name          string                    `json:"name"`
	Description   string                    `json:"description"`
	RepositoryURL string                    `json:"repository_url"`
	Branch        string                    `json:"branch"`
	ProjectType   engine.ProjectType        `json:"project_type"`
	BuildCommand  string                    `json:"build_command"`
	StartCommand  string                    `json:"start_command"`
	EnvVars       []engine.EnvVar           `json:"env_vars"`
	Settings      engine.DeploymentSettings `json:"settings"`
}

// SetEnvRequest is the body of PUT /projects/{id}/env/{key}.
type SetEnvRequest struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"is_secret"`
}

// ProjectResponse is a project with secret env values masked.
type ProjectResponse struct {
	*engine.Project
	StackID string `json:"stack_id"`
}

// DeployResponse is the body of a successful deploy.
type DeployResponse struct {
	URL     string            `json:"url"`
	Outputs map[string]string `json:"outputs"`
}

// TeardownResponse is the body of DELETE /projects/{id}.
type TeardownResponse struct {
	ProjectID    string `json:"project_id"`
	StackID      string `json:"stack_id"`
	DestroyError string `json:"destroy_error,omitempty"`
}

// RepositoryListResponse is the body of GET /repositories.
type RepositoryListResponse struct {
	Repositories []source.Repository `json:"repositories"`
	Page         int                 `json:"page"`
	PerPage      int                 `json:"per_page"`
}

func projectResponse(p *engine.Project) ProjectResponse {
	cp := *p
	cp.EnvVars = make([]engine.EnvVar, len(p.EnvVars))
	for i, v := range p.EnvVars {
		if v.IsSecret {
			v.Value = "[REDACTED]"
		}
		cp.EnvVars[i] = v
	}
	return ProjectResponse{Project: &cp, StackID: engine.StackID(p.Name)}
}
