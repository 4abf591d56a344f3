package orchestrator

import (
	"context"
	"fmt"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/providers"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
)

// Teardown destroys the stack of a project and archives it. A failed destroy
// is logged and reported in TeardownResult.DestroyErr; it never blocks
// archiving.
func (o *Orchestrator) Teardown(ctx context.Context, req TeardownRequest) (*TeardownResult, error) {
	p, err := o.loadAuthorized(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	release, err := o.acquire(ctx, p)
	if err != nil {
		return nil, err
	}
	defer release()

	stackID := engine.StackID(p.Name)
	logger := o.logger.With().Str("project", p.Name).Str("stack", stackID).Logger()

	ctx, span := o.tel.Tracer.StartDeploySpan(ctx, "teardown", p.Name, "")
	defer span.End()

	if p.Status != engine.ProjectStatusArchived {
		if err := o.deps.Store.UpdateProjectStatus(ctx, p.ID, engine.ProjectStatusSuspended); err != nil {
			return nil, fmt.Errorf("failed to suspend project: %w", err)
		}
	}

	result := &TeardownResult{ProjectID: p.ID, StackID: stackID}
	if destroyErr := o.destroy(ctx, p, stackID); destroyErr != nil {
		result.DestroyErr = destroyErr
		telemetry.RecordError(span, destroyErr)
		logger.Error().Err(destroyErr).Msg("Stack destroy failed, archiving anyway")
	}

	if err := o.deps.Store.UpdateProjectStatus(ctx, p.ID, engine.ProjectStatusArchived); err != nil {
		return result, fmt.Errorf("failed to archive project: %w", err)
	}
	empty := ""
	if err := o.transition(ctx, p, engine.DeploymentUpdate{
		Status: engine.DeploymentStatusNotDeployed,
		URL:    &empty,
	}); err != nil {
		return result, err
	}
	o.cleanupWorkspace(p.Name, logger)

	status := "ok"
	if result.DestroyErr != nil {
		status = "destroy_failed"
	}
	o.tel.Metrics.RecordTeardown(status)
	o.publish(o.tel.Events.PublishTeardownCompleted(p.ID, p.UserID, stackID))
	logger.Info().Str("status", status).Msg("Project archived")
	return result, nil
}

// destroy rebuilds the program of p so the engine can resolve the stack's
// project, then destroys and removes the stack.
func (o *Orchestrator) destroy(ctx context.Context, p *engine.Project, stackID string) error {
	token, err := o.deps.Secrets.SourceToken(ctx, p.UserID)
	if err != nil {
		// The program only needs the token for VM bootstrap; destroy does not run it.
		token = ""
	}
	cfg, err := engine.NewProjectConfig(p, engine.ConfigOptions{
		AttemptID:   "teardown",
		SourceToken: token,
		Defaults:    o.cfg.Defaults,
	})
	if err != nil {
		return err
	}
	adapter, err := o.deps.Providers.For(cfg.Target)
	if err != nil {
		return err
	}
	if cfg.ContainerCluster != nil {
		cfg.ContainerCluster.Image = providers.ImageRef(cfg)
	}
	inputs, err := adapter.BuildProgramInputs(cfg)
	if err != nil {
		return err
	}

	dirs, err := o.deps.Workspaces.Prepare(p.Name)
	if err != nil {
		return err
	}
	client, err := o.deps.Clients(dirs.Program, append(cfg.SecretValues(), inputs.SecretValues()...))
	if err != nil {
		return err
	}
	if _, err := client.WriteProgram(inputs.Program); err != nil {
		return err
	}
	return o.tel.EngineCall(ctx, "destroy", stackID, func(ctx context.Context) error {
		_, err := client.Destroy(ctx, stackID)
		return err
	})
}

// StatusView is the deployment view of a project.
type StatusView struct {
	Project  *engine.Project      `json:"project"`
	StackID  string               `json:"stack_id"`
	Attempts []*engine.Deployment `json:"attempts,omitempty"`
}

// Status returns the current deployment state of a project and, when a
// History is configured, its latest attempts.
func (o *Orchestrator) Status(ctx context.Context, projectID, userID string, limit int) (*StatusView, error) {
	p, err := o.loadAuthorized(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Project: p, StackID: engine.StackID(p.Name)}
	if o.deps.History != nil {
		if limit <= 0 {
			limit = 10
		}
		if view.Attempts, err = o.deps.History.ListDeployments(ctx, p.ID, limit); err != nil {
			return nil, err
		}
	}
	return view, nil
}
