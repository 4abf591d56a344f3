package providers

import (
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// ManagedPlatformAdapter deploys to an app platform that builds straight from
// the repository.
type ManagedPlatformAdapter struct{}

// NewManagedPlatformAdapter creates the managed-platform adapter.
func NewManagedPlatformAdapter() *ManagedPlatformAdapter {
	return &ManagedPlatformAdapter{}
}

// Kind implements Adapter.
func (a *ManagedPlatformAdapter) Kind() engine.ProviderKind {
	return engine.ProviderManagedPlatform
}

// NeedsSource implements Adapter. The platform pulls the repository itself.
func (a *ManagedPlatformAdapter) NeedsSource() bool {
	return false
}

// Validate implements Adapter.
func (a *ManagedPlatformAdapter) Validate(cfg *engine.ProjectConfig) error {
	if cfg.ManagedPlatform == nil {
		return invalid(a.Kind(), "managed platform config missing")
	}
	switch cfg.ProjectType {
	case engine.ProjectTypeStaticSite, engine.ProjectTypeWebService:
		return nil
	default:
		return invalid(a.Kind(), "unsupported project type %q", cfg.ProjectType)
	}
}

// BuildProgramInputs implements Adapter.
func (a *ManagedPlatformAdapter) BuildProgramInputs(cfg *engine.ProjectConfig) (*ProgramInputs, error) {
	if err := a.Validate(cfg); err != nil {
		return nil, err
	}
	c := cfg.ManagedPlatform

	p := automation.NewProgram(programName(cfg), "App platform deployment for "+cfg.Name)
	in := &ProgramInputs{Program: p}

	envs := make([]any, 0, len(cfg.EnvVars))
	for _, v := range cfg.EnvVars {
		env := map[string]any{"key": v.Key, "scope": "RUN_AND_BUILD_TIME"}
		if v.IsSecret {
			key := secretEnvKey(v.Key)
			in.add(key, v.Value, true)
			env["type"] = "SECRET"
			env["value"] = automation.Ref(key)
		} else {
			env["type"] = "GENERAL"
			env["value"] = automation.Literal(v.Value)
		}
		envs = append(envs, env)
	}

	source := map[string]any{
		"repo":         automation.Literal(cfg.Owner + "/" + cfg.Repo),
		"branch":       automation.Literal(cfg.Branch),
		"deployOnPush": false,
	}
	component := map[string]any{
		"name":   strings.ToLower(cfg.Name),
		"github": source,
		"envs":   envs,
	}
	if dir := strings.TrimSpace(c.SourceDir); dir != "" && dir != "." {
		component["sourceDir"] = automation.Literal(dir)
	}
	if cfg.BuildCommand != "" {
		component["buildCommand"] = automation.Literal(cfg.BuildCommand)
	}

	spec := map[string]any{
		"name":   strings.ToLower(cfg.Name),
		"region": c.Region,
	}
	switch cfg.ProjectType {
	case engine.ProjectTypeStaticSite:
		if c.OutputDir != "" {
			component["outputDir"] = automation.Literal(c.OutputDir)
		}
		spec["staticSites"] = []any{component}
	case engine.ProjectTypeWebService:
		if cfg.StartCommand != "" {
			component["runCommand"] = automation.Literal(cfg.StartCommand)
		}
		component["httpPort"] = c.HTTPPort
		component["instanceCount"] = c.InstanceCount
		component["instanceSizeSlug"] = c.InstanceSizeSlug
		if cfg.Settings.HealthCheckPath != "" {
			component["healthCheck"] = map[string]any{"httpPath": automation.Literal(cfg.Settings.HealthCheckPath)}
		}
		spec["services"] = []any{component}
	}

	p.Add("app", "digitalocean:App", map[string]any{"spec": spec})
	p.Outputs[engine.OutputURL] = automation.Ref("app.liveUrl")
	p.Outputs[engine.OutputResourceID] = automation.Ref("app.id")

	return in, nil
}

// InterpretOutputs implements Adapter.
func (a *ManagedPlatformAdapter) InterpretOutputs(raw map[string]any) (*engine.DeploymentResult, error) {
	return interpret(a.Kind(), raw, engine.OutputURL, engine.OutputResourceID)
}
