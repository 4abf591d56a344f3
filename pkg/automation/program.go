package automation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProgramFile is the program document name inside a program directory.
const ProgramFile = "Pulumi.yaml"

// Program is an infrastructure program in the engine's YAML runtime format.
type Program struct {
	Name        string                `yaml:"name"`
	Runtime     string                `yaml:"runtime"`
	Description string                `yaml:"description,omitempty"`
	Config      map[string]ConfigDecl `yaml:"config,omitempty"`
	Variables   map[string]any        `yaml:"variables,omitempty"`
	Resources   map[string]Resource   `yaml:"resources"`
	Outputs     map[string]any        `yaml:"outputs,omitempty"`
}

// ConfigDecl declares a configuration key read by the program.
type ConfigDecl struct {
	Type    string `yaml:"type"`
	Default any    `yaml:"default,omitempty"`
	Secret  bool   `yaml:"secret,omitempty"`
}

// Resource is a declared cloud resource.
type Resource struct {
	Type       string           `yaml:"type"`
	Properties map[string]any   `yaml:"properties,omitempty"`
	Options    *ResourceOptions `yaml:"options,omitempty"`
}

// ResourceOptions are engine-level resource options.
type ResourceOptions struct {
	DependsOn           []string `yaml:"dependsOn,omitempty"`
	DeleteBeforeReplace bool     `yaml:"deleteBeforeReplace,omitempty"`
	RetainOnDelete      bool     `yaml:"retainOnDelete,omitempty"`
}

// NewProgram creates an empty YAML-runtime program.
func NewProgram(name, description string) *Program {
	return &Program{
		Name:        name,
		Runtime:     "yaml",
		Description: description,
		Config:      make(map[string]ConfigDecl),
		Variables:   make(map[string]any),
		Resources:   make(map[string]Resource),
		Outputs:     make(map[string]any),
	}
}

// DeclareConfig adds a string config key.
func (p *Program) DeclareConfig(key string, secret bool) {
	p.Config[key] = ConfigDecl{Type: "string", Secret: secret}
}

// Add declares a resource under logical name.
func (p *Program) Add(name, typ string, props map[string]any, deps ...string) {
	r := Resource{Type: typ, Properties: props}
	if len(deps) > 0 {
		r.Options = &ResourceOptions{DependsOn: deps}
	}
	p.Resources[name] = r
}

// Ref builds an interpolation expression such as ${cluster.arn}.
func Ref(expr string) string {
	return "${" + expr + "}"
}

// Literal escapes s so the YAML runtime emits it verbatim instead of
// interpolating ${...} sequences. Every user-supplied string placed in a
// program goes through Literal.
func Literal(s string) string {
	return strings.ReplaceAll(s, "${", "$${")
}

// Validate checks that the program declares something runnable.
func (p *Program) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("program name is required")
	}
	if p.Runtime != "yaml" {
		return fmt.Errorf("unsupported program runtime %q", p.Runtime)
	}
	if len(p.Resources) == 0 {
		return fmt.Errorf("program %s declares no resources", p.Name)
	}
	for name, r := range p.Resources {
		if r.Type == "" {
			return fmt.Errorf("resource %s has no type", name)
		}
	}
	return nil
}

// WriteProgram validates p and writes it to dir/Pulumi.yaml.
func WriteProgram(dir string, p *Program) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid program: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode program: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create program directory: %w", err)
	}
	path := filepath.Join(dir, ProgramFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write program: %w", err)
	}
	return path, nil
}
