package orchestrator

import (
	"context"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
)

// Catalog is the project persistence used outside the deploy path.
type Catalog interface {
	CreateProject(ctx context.Context, p *engine.Project) error
	GetProject(ctx context.Context, id string) (*engine.Project, error)
	GetProjectByName(ctx context.Context, name string) (*engine.Project, error)
	ListProjects(ctx context.Context, filter stores.ProjectFilter) ([]*engine.Project, error)
	SetEnvVar(ctx context.Context, projectID string, v engine.EnvVar) (bool, error)
	DeleteEnvVar(ctx context.Context, projectID, key string) error
}

// RepositoryChecker confirms that a repository and branch are reachable.
type RepositoryChecker interface {
	CheckRepository(ctx context.Context, repoURL, branch, token string) (*source.Repository, error)
}

// Projects manages project registration and env vars and emits the matching
// lifecycle events.
type Projects struct {
	catalog Catalog
	events  *telemetry.EventPublisher

	repos   RepositoryChecker
	secrets engine.SecretResolver
}

// NewProjects creates a project service.
func NewProjects(catalog Catalog, events *telemetry.EventPublisher) *Projects {
	return &Projects{catalog: catalog, events: events}
}

// CheckRepositories makes Create reject projects whose repository or branch
// the owner's source credential cannot see.
func (s *Projects) CheckRepositories(repos RepositoryChecker, secrets engine.SecretResolver) *Projects {
	s.repos, s.secrets = repos, secrets
	return s
}

// Create registers p for userID.
func (s *Projects) Create(ctx context.Context, userID string, p *engine.Project) error {
	if userID == "" {
		return engine.NewConfigValidationError("user id is required", nil)
	}
	p.UserID = userID
	if p.ProjectType != "" {
		if err := p.ProjectType.Validate(); err != nil {
			return engine.NewConfigValidationError("invalid project type", err).WithResource(p.Name)
		}
	}
	if _, _, err := engine.ParseRepositoryURL(p.RepositoryURL); err != nil {
		return engine.NewConfigValidationError("invalid repository url", err).WithResource(p.Name)
	}
	if s.repos != nil {
		token, err := s.secrets.SourceToken(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.repos.CheckRepository(ctx, p.RepositoryURL, p.Branch, token); err != nil {
			return err
		}
	}
	if err := s.catalog.CreateProject(ctx, p); err != nil {
		return err
	}
	_ = s.events.Publish(telemetry.Event{
		Type:      telemetry.EventTypeProjectCreated,
		Source:    "projects",
		ProjectID: p.ID,
		UserID:    userID,
		Message:   "project created",
		Data:      map[string]interface{}{"name": p.Name, "repository_url": p.RepositoryURL},
	})
	return nil
}

// Get loads a project owned by userID.
func (s *Projects) Get(ctx context.Context, userID, id string) (*engine.Project, error) {
	p, err := s.catalog.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := (engine.OwnerAuthorizer{}).Authorize(ctx, userID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Resolve loads a project by id, falling back to its name.
func (s *Projects) Resolve(ctx context.Context, userID, ref string) (*engine.Project, error) {
	p, err := s.Get(ctx, userID, ref)
	if err == nil || !engine.HasCode(err, engine.ErrCodeNotFound) {
		return p, err
	}
	p, err = s.catalog.GetProjectByName(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := (engine.OwnerAuthorizer{}).Authorize(ctx, userID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns the projects of userID.
func (s *Projects) List(ctx context.Context, userID string, includeArchived bool) ([]*engine.Project, error) {
	return s.catalog.ListProjects(ctx, stores.ProjectFilter{UserID: userID, IncludeArchived: includeArchived})
}

// SetEnvVar adds or replaces one env var. The value never leaves the store.
func (s *Projects) SetEnvVar(ctx context.Context, userID, projectID string, v engine.EnvVar) error {
	if _, err := s.Get(ctx, userID, projectID); err != nil {
		return err
	}
	replaced, err := s.catalog.SetEnvVar(ctx, projectID, v)
	if err != nil {
		return err
	}
	action := engine.ActivityEnvVarAdded
	if replaced {
		action = engine.ActivityEnvVarUpdated
	}
	s.publishEnv(projectID, userID, v.Key, action)
	return nil
}

// DeleteEnvVar removes one env var.
func (s *Projects) DeleteEnvVar(ctx context.Context, userID, projectID, key string) error {
	if _, err := s.Get(ctx, userID, projectID); err != nil {
		return err
	}
	if err := s.catalog.DeleteEnvVar(ctx, projectID, key); err != nil {
		return err
	}
	s.publishEnv(projectID, userID, key, engine.ActivityEnvVarDeleted)
	return nil
}

func (s *Projects) publishEnv(projectID, userID, key string, action engine.ActivityAction) {
	_ = s.events.Publish(telemetry.Event{
		Type:      telemetry.EventTypeEnvVarChanged,
		Source:    "projects",
		ProjectID: projectID,
		UserID:    userID,
		Message:   "env var changed",
		Data:      map[string]interface{}{"action": string(action), "key": key},
	})
}
