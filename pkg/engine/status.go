package engine

import (
	"encoding/json"
	"fmt"
)

// DeploymentStatus is the persisted deployment state of a project.
type DeploymentStatus string

const (
	// DeploymentStatusNotDeployed indicates no live deployment exists.
	DeploymentStatusNotDeployed DeploymentStatus = "not_deployed"

	// DeploymentStatusDeploying indicates a deploy attempt is in flight.
	// It is persisted before the pipeline starts so a crash leaves it visible.
	DeploymentStatusDeploying DeploymentStatus = "deploying"

	// DeploymentStatusDeployed indicates the last attempt succeeded.
	DeploymentStatusDeployed DeploymentStatus = "deployed"

	// DeploymentStatusFailed indicates the last attempt failed.
	DeploymentStatusFailed DeploymentStatus = "failed"
)

// IsTerminal returns true if no attempt is in flight.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusDeployed || s == DeploymentStatusFailed ||
		s == DeploymentStatusNotDeployed
}

// Validate checks if the deployment status is valid.
func (s DeploymentStatus) Validate() error {
	switch s {
	case DeploymentStatusNotDeployed, DeploymentStatusDeploying,
		DeploymentStatusDeployed, DeploymentStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid deployment status: %s", s)
	}
}

// CanTransitionTo reports whether next is reachable from s in one step.
//
//	not_deployed -> deploying -> deployed | failed
//	deployed | failed -> deploying
//	any -> not_deployed (teardown)
func (s DeploymentStatus) CanTransitionTo(next DeploymentStatus) bool {
	if next == DeploymentStatusNotDeployed {
		return s.Validate() == nil
	}
	switch s {
	case DeploymentStatusNotDeployed, DeploymentStatusDeployed, DeploymentStatusFailed:
		return next == DeploymentStatusDeploying
	case DeploymentStatusDeploying:
		return next == DeploymentStatusDeployed || next == DeploymentStatusFailed
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s DeploymentStatus) MarshalJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *DeploymentStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := DeploymentStatus(str)
	if err := status.Validate(); err != nil {
		return err
	}
	*s = status
	return nil
}

// ProjectStatus is the lifecycle state of the project record itself.
type ProjectStatus string

const (
	// ProjectStatusActive is the normal state.
	ProjectStatusActive ProjectStatus = "active"

	// ProjectStatusSuspended is held while infrastructure is being torn down.
	ProjectStatusSuspended ProjectStatus = "suspended"

	// ProjectStatusArchived is final; archived projects cannot be deployed.
	ProjectStatusArchived ProjectStatus = "archived"
)

// Validate checks if the project status is valid.
func (s ProjectStatus) Validate() error {
	switch s {
	case ProjectStatusActive, ProjectStatusSuspended, ProjectStatusArchived:
		return nil
	default:
		return fmt.Errorf("invalid project status: %s", s)
	}
}

// ProjectType selects the build flavour on managed platforms.
type ProjectType string

const (
	ProjectTypeStaticSite ProjectType = "static-site"
	ProjectTypeWebService ProjectType = "web-service"
)

// Validate checks if the project type is one of the supported values.
func (t ProjectType) Validate() error {
	switch t {
	case ProjectTypeStaticSite, ProjectTypeWebService:
		return nil
	default:
		return fmt.Errorf("invalid project type: %q (must be %q or %q)",
			string(t), ProjectTypeStaticSite, ProjectTypeWebService)
	}
}

// ProviderKind identifies a deployment target capability set.
type ProviderKind string

const (
	// ProviderContainerCluster runs a self-built image on a managed container cluster.
	ProviderContainerCluster ProviderKind = "container-cluster"

	// ProviderVirtualMachine runs the app on a single bootstrapped instance.
	ProviderVirtualMachine ProviderKind = "virtual-machine"

	// ProviderManagedPlatform delegates build and runtime to a managed app platform.
	ProviderManagedPlatform ProviderKind = "managed-platform"
)

// Validate checks if the provider kind is known.
func (k ProviderKind) Validate() error {
	switch k {
	case ProviderContainerCluster, ProviderVirtualMachine, ProviderManagedPlatform:
		return nil
	default:
		return fmt.Errorf("invalid provider: %q", string(k))
	}
}

// AttemptStatus is the outcome of a single deploy attempt record.
type AttemptStatus string

const (
	AttemptStatusRunning   AttemptStatus = "running"
	AttemptStatusSucceeded AttemptStatus = "succeeded"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// ActivityAction is the action recorded in the activity log.
type ActivityAction string

const (
	ActivityProjectCreated   ActivityAction = "PROJECT_CREATED"
	ActivityProjectUpdated   ActivityAction = "PROJECT_UPDATED"
	ActivityProjectDeleted   ActivityAction = "PROJECT_DELETED"
	ActivityProjectDeployed  ActivityAction = "PROJECT_DEPLOYED"
	ActivityDeploymentFailed ActivityAction = "DEPLOYMENT_FAILED"
	ActivityEnvVarAdded      ActivityAction = "ENV_VAR_ADDED"
	ActivityEnvVarUpdated    ActivityAction = "ENV_VAR_UPDATED"
	ActivityEnvVarDeleted    ActivityAction = "ENV_VAR_DELETED"
)
