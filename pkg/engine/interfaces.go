package engine

import (
	"context"
	"time"
)

// ProjectStore is the persistence collaborator seen by the orchestrator.
// Writes are scoped by project id.
type ProjectStore interface {
	// GetProject loads a project by id. Missing projects return an error
	// matching ErrNotFound.
	GetProject(ctx context.Context, id string) (*Project, error)

	// UpdateDeploymentState writes the deployment fields of a project.
	UpdateDeploymentState(ctx context.Context, id string, update DeploymentUpdate) error

	// UpdateProjectStatus writes the lifecycle status of a project.
	UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error

	// CreateDeployment opens a deploy attempt record.
	CreateDeployment(ctx context.Context, d *Deployment) error

	// FinishDeployment closes a deploy attempt record.
	FinishDeployment(ctx context.Context, id string, status AttemptStatus, url, errMsg, errCode string, finishedAt time.Time) error
}

// DeploymentUpdate carries the four orchestrator-owned project fields.
// Nil pointers leave the stored value untouched.
type DeploymentUpdate struct {
	Status         DeploymentStatus
	URL            *string
	LastDeployedAt *time.Time
	LastError      *string
}

// ActivityRecorder persists activity log entries.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a *Activity) error
}

// Authorizer decides whether a user may act on a project.
type Authorizer interface {
	Authorize(ctx context.Context, userID string, p *Project) error
}

// SecretResolver resolves the source-hosting credential of a user.
type SecretResolver interface {
	SourceToken(ctx context.Context, userID string) (string, error)
}

// Locker provides per-key mutual exclusion. TryAcquire never blocks waiting for
// the holder: it returns ok=false when the key is taken.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// OwnerAuthorizer allows only the project owner.
type OwnerAuthorizer struct{}

// Authorize implements Authorizer.
func (OwnerAuthorizer) Authorize(_ context.Context, userID string, p *Project) error {
	if p == nil || userID == "" || p.UserID != userID {
		return &EngineError{
			Class:   ErrorClassPermanent,
			Code:    ErrCodePermissionDenied,
			Message: "user is not allowed to act on this project",
		}
	}
	return nil
}

// StaticSecrets resolves the same token for every user.
type StaticSecrets struct {
	Token string
}

// SourceToken implements SecretResolver.
func (s StaticSecrets) SourceToken(_ context.Context, _ string) (string, error) {
	return s.Token, nil
}
