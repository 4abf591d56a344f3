package policy

import (
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of s reject the deploy.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a named Rego module.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`
	Tags        []string `json:"tags,omitempty"`

	// Source is the file the policy was read from; empty for built-ins.
	Source string `json:"source,omitempty"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`
}

// Violation is one denied rule.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
}

// Result is the outcome of evaluating all enabled policies.
type Result struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []Violation   `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as input. It never carries secret values.
type Input struct {
	Operation     string    `json:"operation"`
	Timestamp     time.Time `json:"timestamp"`
	Project       string    `json:"project"`
	UserID        string    `json:"user_id"`
	RepositoryURL string    `json:"repository_url"`
	Owner         string    `json:"owner"`
	Repo          string    `json:"repo"`
	Branch        string    `json:"branch"`
	ProjectType   string    `json:"project_type"`
	BuildCommand  string    `json:"build_command"`
	StartCommand  string    `json:"start_command"`
	Target        string    `json:"target"`
	Region        string    `json:"region"`
	Settings      Settings  `json:"settings"`
	EnvVars       []EnvKey  `json:"env_vars"`
}

// Settings are the sizing settings exposed to policies.
type Settings struct {
	InstanceType    string `json:"instance_type"`
	MinInstances    int    `json:"min_instances"`
	MaxInstances    int    `json:"max_instances"`
	Port            int    `json:"port"`
	HealthCheckPath string `json:"health_check_path"`
	Memory          int    `json:"memory"`
	CPU             int    `json:"cpu"`
	Runtime         string `json:"runtime"`
	RuntimeVersion  string `json:"runtime_version"`
}

// EnvKey describes an env var without its value.
type EnvKey struct {
	Key      string `json:"key"`
	IsSecret bool   `json:"is_secret"`
}

// InputFor builds the policy input of a deploy.
func InputFor(cfg *engine.ProjectConfig) Input {
	env := make([]EnvKey, 0, len(cfg.EnvVars))
	for _, v := range cfg.EnvVars {
		env = append(env, EnvKey{Key: v.Key, IsSecret: v.IsSecret})
	}

	var region string
	switch {
	case cfg.ContainerCluster != nil:
		region = cfg.ContainerCluster.Region
	case cfg.VirtualMachine != nil:
		region = cfg.VirtualMachine.Region
	case cfg.ManagedPlatform != nil:
		region = cfg.ManagedPlatform.Region
	}

	s := cfg.Settings
	return Input{
		Operation:     "deploy",
		Timestamp:     time.Now().UTC(),
		Project:       cfg.Name,
		UserID:        cfg.UserID,
		RepositoryURL: cfg.RepositoryURL,
		Owner:         cfg.Owner,
		Repo:          cfg.Repo,
		Branch:        cfg.Branch,
		ProjectType:   string(cfg.ProjectType),
		BuildCommand:  cfg.BuildCommand,
		StartCommand:  cfg.StartCommand,
		Target:        string(cfg.Target),
		Region:        region,
		Settings: Settings{
			InstanceType:    s.InstanceType,
			MinInstances:    s.MinInstances,
			MaxInstances:    s.MaxInstances,
			Port:            s.Port,
			HealthCheckPath: s.HealthCheckPath,
			Memory:          s.Memory,
			CPU:             s.CPU,
			Runtime:         s.Runtime,
			RuntimeVersion:  s.RuntimeVersion,
		},
		EnvVars: env,
	}
}
