package engine

import (
	"fmt"
	"regexp"
	"time"
)

// StackPrefix is prepended to project names to form stack identities.
const StackPrefix = "project-stack-"

// DefaultBranch is used when a project does not name a branch.
const DefaultBranch = "main"

// DefaultPort is written to the env manifest when neither the project nor its
// settings provide one.
const DefaultPort = 80

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateProjectName checks a project name against the allowed pattern.
func ValidateProjectName(name string) error {
	if !projectNamePattern.MatchString(name) {
		return fmt.Errorf("invalid project name %q: only letters, digits, '-' and '_' are allowed", name)
	}
	return nil
}

// StackID maps a project name to its stack identity. The mapping is
// deterministic and, since the prefix is constant, injective.
func StackID(projectName string) string {
	return StackPrefix + projectName
}

// ProjectNameFromStack reverses StackID. ok is false for foreign stacks.
func ProjectNameFromStack(stackID string) (string, bool) {
	if len(stackID) <= len(StackPrefix) || stackID[:len(StackPrefix)] != StackPrefix {
		return "", false
	}
	return stackID[len(StackPrefix):], true
}

// Project is a registered source repository and its deployment state.
type Project struct {
	// ID is the unique identifier (ULID).
	ID string `json:"id"`

	// Name is unique and matches ^[A-Za-z0-9-_]+$.
	Name string `json:"name"`

	// Description is free text.
	Description string `json:"description,omitempty"`

	// UserID is the owning user.
	UserID string `json:"user_id"`

	// RepositoryURL points at the source repository.
	RepositoryURL string `json:"repository_url"`

	// Branch is the branch to deploy.
	Branch string `json:"branch"`

	// EnvVars are injected into the workload in declaration order.
	EnvVars []EnvVar `json:"env_vars"`

	// ProjectType selects static-site or web-service builds.
	ProjectType ProjectType `json:"project_type,omitempty"`

	// BuildCommand builds the app inside its source root.
	BuildCommand string `json:"build_command,omitempty"`

	// StartCommand starts the app.
	StartCommand string `json:"start_command,omitempty"`

	// Settings holds provider sizing and runtime options.
	Settings DeploymentSettings `json:"settings"`

	// DeploymentStatus is written only by the orchestrator.
	DeploymentStatus DeploymentStatus `json:"deployment_status"`

	// DeploymentURL is the reachable endpoint of the last successful deploy.
	DeploymentURL string `json:"deployment_url,omitempty"`

	// LastDeployedAt is when the last deploy succeeded.
	LastDeployedAt *time.Time `json:"last_deployed_at,omitempty"`

	// LastError is the redacted message of the last failed attempt.
	LastError string `json:"last_error,omitempty"`

	// Status is the lifecycle state of the record.
	Status ProjectStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnvVar is a single environment variable declared on a project.
type EnvVar struct {
	Key         string `json:"key" validate:"required,envkey"`
	Value       string `json:"value"`
	IsSecret    bool   `json:"is_secret"`
	Description string `json:"description,omitempty"`
}

// DeploymentSettings carries per-project provider options.
type DeploymentSettings struct {
	// Provider overrides the configured default target when set.
	Provider ProviderKind `json:"provider,omitempty"`

	// InstanceType is the VM size or platform instance slug.
	InstanceType string `json:"instance_type,omitempty"`

	MinInstances int `json:"min_instances,omitempty"`
	MaxInstances int `json:"max_instances,omitempty"`

	// Port is the port the app listens on.
	Port int `json:"port,omitempty"`

	// HealthCheckPath is requested by load balancers.
	HealthCheckPath string `json:"health_check_path,omitempty"`

	// Memory in MiB and CPU in units of 1/1024 vCPU, for container tasks.
	Memory int `json:"memory,omitempty"`
	CPU    int `json:"cpu,omitempty"`

	// Region overrides the provider default region.
	Region string `json:"region,omitempty"`

	// Runtime and RuntimeVersion select the base image or installed runtime.
	Runtime        string `json:"runtime,omitempty"`
	RuntimeVersion string `json:"runtime_version,omitempty"`

	// RootDir is the app root relative to the repository root.
	RootDir string `json:"root_dir,omitempty"`

	// OutputDir is the build output directory of static sites.
	OutputDir string `json:"output_dir,omitempty"`
}

// DefaultSettings returns the settings applied to new projects.
func DefaultSettings() DeploymentSettings {
	return DeploymentSettings{
		InstanceType:    "t3.micro",
		MinInstances:    1,
		MaxInstances:    1,
		Port:            3000,
		HealthCheckPath: "/health",
		Memory:          512,
		CPU:             256,
		Runtime:         "node",
		RuntimeVersion:  "16",
		RootDir:         ".",
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s DeploymentSettings) WithDefaults() DeploymentSettings {
	d := DefaultSettings()
	if s.InstanceType == "" {
		s.InstanceType = d.InstanceType
	}
	if s.MinInstances == 0 {
		s.MinInstances = d.MinInstances
	}
	if s.MaxInstances == 0 {
		s.MaxInstances = d.MaxInstances
	}
	if s.Port == 0 {
		s.Port = d.Port
	}
	if s.HealthCheckPath == "" {
		s.HealthCheckPath = d.HealthCheckPath
	}
	if s.Memory == 0 {
		s.Memory = d.Memory
	}
	if s.CPU == 0 {
		s.CPU = d.CPU
	}
	if s.Runtime == "" {
		s.Runtime = d.Runtime
	}
	if s.RuntimeVersion == "" {
		s.RuntimeVersion = d.RuntimeVersion
	}
	if s.RootDir == "" {
		s.RootDir = d.RootDir
	}
	return s
}

// DeploymentResult is the uniform outcome of one Up or Destroy call.
type DeploymentResult struct {
	Success bool              `json:"success"`
	Outputs map[string]string `json:"outputs"`
	RawLog  string            `json:"raw_log,omitempty"`
}

// Uniform output keys every adapter fills when it can.
const (
	OutputURL        = "url"
	OutputResourceID = "resourceId"
	OutputAddress    = "address"
	OutputImage      = "image"
)

// URL returns the reachable endpoint output.
func (r *DeploymentResult) URL() string {
	if r == nil {
		return ""
	}
	return r.Outputs[OutputURL]
}

// Deployment is the record of one deploy attempt.
type Deployment struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	Status     AttemptStatus `json:"status"`
	Provider   ProviderKind  `json:"provider"`
	StackID    string        `json:"stack_id"`
	URL        string        `json:"url,omitempty"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Activity is an entry in a user's activity log.
type Activity struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	ProjectID string                 `json:"project_id,omitempty"`
	Action    ActivityAction         `json:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// BuildDescriptor is the six-field container build recipe.
type BuildDescriptor struct {
	Runtime      string `json:"runtime" yaml:"runtime"`
	Version      string `json:"version" yaml:"version"`
	Root         string `json:"root" yaml:"root"`
	WorkDir      string `json:"workdir" yaml:"workdir"`
	BuildCommand string `json:"build_command" yaml:"build_command"`
	StartCommand string `json:"start_command" yaml:"start_command"`
}

// WithDefaults fills empty fields with the node defaults.
func (d BuildDescriptor) WithDefaults() BuildDescriptor {
	if d.Runtime == "" {
		d.Runtime = "node"
	}
	if d.Version == "" {
		d.Version = "16"
	}
	if d.Root == "" {
		d.Root = "."
	}
	if d.WorkDir == "" {
		d.WorkDir = "/app"
	}
	if d.BuildCommand == "" {
		d.BuildCommand = "npm install"
	}
	if d.StartCommand == "" {
		d.StartCommand = "npm start"
	}
	return d
}
