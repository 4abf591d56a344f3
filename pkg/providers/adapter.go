// Package providers turns a validated project config into an infrastructure
// program for one cloud target and interprets the program's outputs.
package providers

import (
	"fmt"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
)

// Adapter is implemented by every deploy target.
type Adapter interface {
	// Kind returns the target kind this adapter serves.
	Kind() engine.ProviderKind

	// NeedsSource reports whether the orchestrator must fetch, stage and
	// build the source before provisioning.
	NeedsSource() bool

	// Validate checks the target-specific part of cfg. It runs before any
	// side effect and returns a ConfigValidationError.
	Validate(cfg *engine.ProjectConfig) error

	// BuildProgramInputs declares the program and the config values to set
	// on the stack.
	BuildProgramInputs(cfg *engine.ProjectConfig) (*ProgramInputs, error)

	// InterpretOutputs maps raw stack outputs to the uniform result.
	InterpretOutputs(raw map[string]any) (*engine.DeploymentResult, error)
}

// ProgramInputs are the program document plus the stack config it reads.
type ProgramInputs struct {
	Program *automation.Program
	Config  []ConfigValue
}

// ConfigValue is one stack config entry.
type ConfigValue struct {
	Key    string
	Value  string
	Secret bool
}

// add appends a config value and declares it on the program when it is a
// program-level key. Provider keys (namespace:key) are not declared.
func (in *ProgramInputs) add(key, value string, secret bool) {
	in.Config = append(in.Config, ConfigValue{Key: key, Value: value, Secret: secret})
	if !strings.Contains(key, ":") {
		in.Program.DeclareConfig(key, secret)
	}
}

// SecretValues returns the values of every secret config entry.
func (in *ProgramInputs) SecretValues() []string {
	var out []string
	for _, c := range in.Config {
		if c.Secret && c.Value != "" {
			out = append(out, c.Value)
		}
	}
	return out
}

// secretEnvKey names the stack config entry carrying a secret env var. Env
// keys are already restricted to [A-Za-z0-9_].
func secretEnvKey(envKey string) string {
	return "secretEnv_" + envKey
}

// programName derives the program name from the stack identity.
func programName(cfg *engine.ProjectConfig) string {
	return "froyo-" + strings.ToLower(cfg.Name)
}

// outputString reads a string output, formatting scalars.
func outputString(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// interpret copies the listed outputs and requires the url output.
func interpret(kind engine.ProviderKind, raw map[string]any, keys ...string) (*engine.DeploymentResult, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v := outputString(raw, k); v != "" {
			out[k] = v
		}
	}
	if out[engine.OutputURL] == "" {
		return nil, engine.NewPermanentError("stack produced no url output", nil).
			WithCode(engine.ErrCodeProvision).
			WithResource(string(kind))
	}
	return &engine.DeploymentResult{Success: true, Outputs: out}, nil
}

func invalid(kind engine.ProviderKind, format string, args ...any) error {
	return engine.NewConfigValidationError(fmt.Sprintf(format, args...), nil).WithResource(string(kind))
}
