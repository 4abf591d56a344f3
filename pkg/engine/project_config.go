package engine

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared struct validator with the project tags registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("envkey", func(fl validator.FieldLevel) bool {
			return envKeyPattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("projectname", func(fl validator.FieldLevel) bool {
			return projectNamePattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// ProjectConfig is the normalized, per-call view of a project used by the
// deploy pipeline. It holds resolved secrets and is never persisted.
type ProjectConfig struct {
	ProjectID string `validate:"required"`
	Name      string `validate:"required,projectname"`
	UserID    string `validate:"required"`

	// StackID is StackID(Name).
	StackID string `validate:"required"`

	// AttemptID identifies this deploy attempt.
	AttemptID string `validate:"required"`

	RepositoryURL string `validate:"required"`
	Owner         string `validate:"required"`
	Repo          string `validate:"required"`
	Branch        string `validate:"required"`

	ProjectType  ProjectType
	BuildCommand string
	StartCommand string
	EnvVars      []EnvVar `validate:"dive"`
	Settings     DeploymentSettings

	// SourceToken is the bearer credential for the source-hosting API.
	SourceToken string `json:"-"`

	// Target selects which of the variant configs below is set.
	Target ProviderKind `validate:"required"`

	ContainerCluster *ContainerClusterConfig
	VirtualMachine   *VirtualMachineConfig
	ManagedPlatform  *ManagedPlatformConfig
}

// ContainerClusterConfig targets a managed container cluster behind a load balancer.
type ContainerClusterConfig struct {
	Region string `validate:"required"`

	// Registry is the image repository without tag, e.g. 123.dkr.ecr.us-east-1.amazonaws.com/apps.
	Registry         string `validate:"required"`
	RegistryUsername string
	RegistryPassword string `json:"-"`

	// Image is the fully qualified image reference, filled after the build.
	Image string

	Port            int    `validate:"gt=0,lt=65536"`
	HealthCheckPath string `validate:"required,startswith=/"`
	CPU             int    `validate:"gt=0"`
	Memory          int    `validate:"gt=0"`
	DesiredCount    int    `validate:"gt=0"`
}

// VirtualMachineConfig targets a single bootstrapped compute instance.
type VirtualMachineConfig struct {
	Region string `validate:"required"`
	Size   string `validate:"required"`
	Image  string `validate:"required"`

	// SSHAuthorizedKey is the operator key installed on the instance.
	SSHAuthorizedKey string

	Runtime        string `validate:"required"`
	RuntimeVersion string `validate:"required"`
	Port           int    `validate:"gt=0,lt=65536"`
}

// ManagedPlatformConfig targets a managed app platform that builds from source.
type ManagedPlatformConfig struct {
	Region           string `validate:"required"`
	InstanceSizeSlug string `validate:"required"`
	InstanceCount    int    `validate:"gt=0"`
	HTTPPort         int    `validate:"gt=0,lt=65536"`
	OutputDir        string
	SourceDir        string
}

// TargetDefaults holds the environment-wide defaults for each provider kind.
type TargetDefaults struct {
	DefaultProvider ProviderKind

	AWSRegion        string
	Registry         string
	RegistryUsername string
	RegistryPassword string

	DORegion         string
	DropletSize      string
	DropletImage     string
	SSHAuthorizedKey string
	AppInstanceSlug  string
}

// ConfigOptions are the per-call inputs to NewProjectConfig.
type ConfigOptions struct {
	AttemptID   string
	SourceToken string
	Defaults    TargetDefaults
}

// NewProjectConfig normalizes p into a ProjectConfig and validates it
// exhaustively. Every failure is a ConfigValidationError.
func NewProjectConfig(p *Project, opts ConfigOptions) (*ProjectConfig, error) {
	if p == nil {
		return nil, NewConfigValidationError("project is required", nil)
	}
	if err := ValidateProjectName(p.Name); err != nil {
		return nil, NewConfigValidationError("invalid project", err).WithResource(p.Name)
	}

	owner, repo, err := ParseRepositoryURL(p.RepositoryURL)
	if err != nil {
		return nil, NewConfigValidationError("invalid repository url", err).WithResource(p.Name)
	}

	if p.ProjectType != "" {
		if err := p.ProjectType.Validate(); err != nil {
			return nil, NewConfigValidationError("invalid project type", err).WithResource(p.Name)
		}
	}

	settings := p.Settings.WithDefaults()
	target := settings.Provider
	if target == "" {
		target = opts.Defaults.DefaultProvider
	}
	if err := target.Validate(); err != nil {
		return nil, NewConfigValidationError("invalid deployment target", err).WithResource(p.Name)
	}

	branch := p.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	cfg := &ProjectConfig{
		ProjectID:     p.ID,
		Name:          p.Name,
		UserID:        p.UserID,
		StackID:       StackID(p.Name),
		AttemptID:     opts.AttemptID,
		RepositoryURL: p.RepositoryURL,
		Owner:         owner,
		Repo:          repo,
		Branch:        branch,
		ProjectType:   p.ProjectType,
		BuildCommand:  p.BuildCommand,
		StartCommand:  p.StartCommand,
		EnvVars:       append([]EnvVar(nil), p.EnvVars...),
		Settings:      settings,
		SourceToken:   opts.SourceToken,
		Target:        target,
	}

	d := opts.Defaults
	region := func(fallback string) string {
		if settings.Region != "" {
			return settings.Region
		}
		return fallback
	}

	switch target {
	case ProviderContainerCluster:
		cfg.ContainerCluster = &ContainerClusterConfig{
			Region:           region(d.AWSRegion),
			Registry:         d.Registry,
			RegistryUsername: d.RegistryUsername,
			RegistryPassword: d.RegistryPassword,
			Port:             settings.Port,
			HealthCheckPath:  settings.HealthCheckPath,
			CPU:              settings.CPU,
			Memory:           settings.Memory,
			DesiredCount:     settings.MinInstances,
		}
	case ProviderVirtualMachine:
		size := d.DropletSize
		if settings.InstanceType != "" && settings.InstanceType != DefaultSettings().InstanceType {
			size = settings.InstanceType
		}
		cfg.VirtualMachine = &VirtualMachineConfig{
			Region:           region(d.DORegion),
			Size:             size,
			Image:            d.DropletImage,
			SSHAuthorizedKey: d.SSHAuthorizedKey,
			Runtime:          settings.Runtime,
			RuntimeVersion:   settings.RuntimeVersion,
			Port:             settings.Port,
		}
	case ProviderManagedPlatform:
		if p.ProjectType == "" {
			return nil, NewConfigValidationError("invalid project type",
				fmt.Errorf("project type is required for %s", target)).WithResource(p.Name)
		}
		cfg.ManagedPlatform = &ManagedPlatformConfig{
			Region:           region(d.DORegion),
			InstanceSizeSlug: d.AppInstanceSlug,
			InstanceCount:    settings.MinInstances,
			HTTPPort:         settings.Port,
			OutputDir:        settings.OutputDir,
			SourceDir:        settings.RootDir,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the union invariant: exactly the variant
// named by Target is set.
func (c *ProjectConfig) Validate() error {
	if err := Validator().Struct(c); err != nil {
		return NewConfigValidationError("invalid project configuration", err).WithResource(c.Name)
	}

	set := 0
	for _, present := range []bool{c.ContainerCluster != nil, c.VirtualMachine != nil, c.ManagedPlatform != nil} {
		if present {
			set++
		}
	}
	var match bool
	switch c.Target {
	case ProviderContainerCluster:
		match = c.ContainerCluster != nil
	case ProviderVirtualMachine:
		match = c.VirtualMachine != nil
	case ProviderManagedPlatform:
		match = c.ManagedPlatform != nil
	}
	if set != 1 || !match {
		return NewConfigValidationError("invalid project configuration",
			fmt.Errorf("target %s requires exactly its own provider config", c.Target)).WithResource(c.Name)
	}

	seen := make(map[string]struct{}, len(c.EnvVars))
	for _, ev := range c.EnvVars {
		if _, dup := seen[ev.Key]; dup {
			return NewConfigValidationError("invalid project configuration",
				fmt.Errorf("duplicate env var %s", ev.Key)).WithResource(c.Name)
		}
		seen[ev.Key] = struct{}{}
	}
	return nil
}

// SecretValues returns every value that must never be surfaced in clear text.
func (c *ProjectConfig) SecretValues() []string {
	var out []string
	if c.SourceToken != "" {
		out = append(out, c.SourceToken)
	}
	for _, ev := range c.EnvVars {
		if ev.IsSecret && ev.Value != "" {
			out = append(out, ev.Value)
		}
	}
	if c.ContainerCluster != nil && c.ContainerCluster.RegistryPassword != "" {
		out = append(out, c.ContainerCluster.RegistryPassword)
	}
	return out
}

// ParseRepositoryURL extracts owner and repository from an https or scp-style
// git URL.
func ParseRepositoryURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", fmt.Errorf("repository url is empty")
	}

	var path string
	switch {
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		rest := s[strings.Index(s, "://")+3:]
		slash := strings.Index(rest, "/")
		if slash < 0 {
			return "", "", fmt.Errorf("repository url %q has no path", raw)
		}
		path = rest[slash+1:]
	case strings.HasPrefix(s, "git@"):
		colon := strings.Index(s, ":")
		if colon < 0 {
			return "", "", fmt.Errorf("repository url %q has no path", raw)
		}
		path = s[colon+1:]
	default:
		return "", "", fmt.Errorf("unsupported repository url %q", raw)
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url %q must be <host>/<owner>/<repo>", raw)
	}
	return parts[0], parts[1], nil
}
