package orchestrator

import (
	"context"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/imagebuild"
	"github.com/openfroyo/froyodeploy/pkg/providers"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
	"github.com/openfroyo/froyodeploy/pkg/workspace"
	"github.com/rs/zerolog"
)

// Pipeline phases, used as span and metric labels.
const (
	PhaseFetch   = "fetch"
	PhaseStage   = "stage"
	PhaseImage   = "image"
	PhaseProgram = "program"
	PhaseStack   = "stack"
	PhaseUp      = "up"
	PhaseVerify  = "verify"
)

// runPipeline provisions cfg and returns the interpreted result.
func (o *Orchestrator) runPipeline(ctx context.Context, cfg *engine.ProjectConfig, adapter providers.Adapter, logger zerolog.Logger) (*engine.DeploymentResult, error) {
	dirs, err := o.deps.Workspaces.Prepare(cfg.Name)
	if err != nil {
		return nil, err
	}

	if adapter.NeedsSource() {
		if err := o.buildImage(ctx, cfg, dirs, logger); err != nil {
			return nil, err
		}
	}

	var inputs *providers.ProgramInputs
	var client *automation.Client
	err = o.phase(ctx, PhaseProgram, cfg, func(ctx context.Context) error {
		var err error
		if inputs, err = adapter.BuildProgramInputs(cfg); err != nil {
			return err
		}
		secrets := append(cfg.SecretValues(), inputs.SecretValues()...)
		if client, err = o.deps.Clients(dirs.Program, secrets); err != nil {
			return err
		}
		_, err = client.WriteProgram(inputs.Program)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = o.phase(ctx, PhaseStack, cfg, func(ctx context.Context) error {
		err := o.tel.EngineCall(ctx, "ensure", cfg.StackID, func(ctx context.Context) error {
			return client.EnsureStack(ctx, cfg.StackID)
		})
		if err != nil {
			return err
		}
		for _, c := range inputs.Config {
			if err := client.SetConfig(ctx, cfg.StackID, c.Key, c.Value, c.Secret); err != nil {
				return err
			}
		}
		logger.Debug().Int("config", len(inputs.Config)).Msg("Stack configured")
		return nil
	})
	if err != nil {
		return nil, err
	}

	var result *engine.DeploymentResult
	err = o.phase(ctx, PhaseUp, cfg, func(ctx context.Context) error {
		var up *engine.DeploymentResult
		var raw map[string]any
		err := o.tel.EngineCall(ctx, "up", cfg.StackID, func(ctx context.Context) error {
			var err error
			up, raw, err = client.Up(ctx, cfg.StackID)
			return err
		})
		if err != nil {
			return err
		}
		if result, err = adapter.InterpretOutputs(raw); err != nil {
			return err
		}
		result.RawLog = up.RawLog
		return nil
	})
	if err != nil {
		return nil, err
	}

	if o.deps.Verifier != nil {
		err = o.phase(ctx, PhaseVerify, cfg, func(ctx context.Context) error {
			return o.deps.Verifier.Verify(ctx, cfg, result)
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// buildImage fetches and stages the source, then builds and pushes the image
// and records its reference on cfg.
func (o *Orchestrator) buildImage(ctx context.Context, cfg *engine.ProjectConfig, dirs workspace.Dirs, logger zerolog.Logger) error {
	var tree string
	err := o.phase(ctx, PhaseFetch, cfg, func(ctx context.Context) error {
		t, err := o.deps.Fetcher.Acquire(ctx, cfg.RepositoryURL, cfg.Branch, cfg.SourceToken, dirs.Source)
		if err != nil {
			return err
		}
		tree = t.Root
		return nil
	})
	if err != nil {
		return err
	}

	var staged string
	err = o.phase(ctx, PhaseStage, cfg, func(ctx context.Context) error {
		manifest := workspace.ManifestFor(cfg)
		var err error
		staged, err = o.deps.Stager.Stage(ctx, workspace.StageRequest{
			SourceDir:  tree,
			EnvVars:    cfg.EnvVars,
			Port:       cfg.Settings.Port,
			Descriptor: descriptorFor(cfg),
			Manifest:   &manifest,
		})
		return err
	})
	if err != nil {
		return err
	}

	return o.phase(ctx, PhaseImage, cfg, func(ctx context.Context) error {
		c := cfg.ContainerCluster
		ref, err := o.deps.Builder.BuildAndPush(ctx, imagebuild.Request{
			ContextDir: staged,
			Image:      providers.ImageRef(cfg),
			Platform:   o.cfg.Platform,
			Auth: imagebuild.Auth{
				Username:      c.RegistryUsername,
				Password:      c.RegistryPassword,
				ServerAddress: registryHost(c.Registry),
			},
			Secrets: cfg.SecretValues(),
		})
		if err != nil {
			return err
		}
		c.Image = ref
		logger.Info().Str("image", ref).Msg("Image ready")
		return nil
	})
}

// phase runs fn inside a phase span.
func (o *Orchestrator) phase(ctx context.Context, name string, cfg *engine.ProjectConfig, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	op := o.tel.StartPhase(ctx, name, telemetry.AttrProject.String(cfg.Name), telemetry.AttrProvider.String(string(cfg.Target)))
	err := fn(op.Ctx)
	op.End(err)
	return err
}

func descriptorFor(cfg *engine.ProjectConfig) *engine.BuildDescriptor {
	return &engine.BuildDescriptor{
		Runtime:      cfg.Settings.Runtime,
		Version:      cfg.Settings.RuntimeVersion,
		Root:         cfg.Settings.RootDir,
		BuildCommand: cfg.BuildCommand,
		StartCommand: cfg.StartCommand,
	}
}

// registryHost is the host part of an image repository.
func registryHost(registry string) string {
	host, _, _ := strings.Cut(registry, "/")
	return host
}

// scrubbed is the message of err with every secret of cfg removed.
func scrubbed(cfg *engine.ProjectConfig, err error) string {
	if err == nil {
		return ""
	}
	return automation.NewRedactor(cfg.SecretValues()...).Redact(err.Error())
}
