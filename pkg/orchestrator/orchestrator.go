package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/imagebuild"
	"github.com/openfroyo/froyodeploy/pkg/policy"
	"github.com/openfroyo/froyodeploy/pkg/providers"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
	"github.com/openfroyo/froyodeploy/pkg/workspace"
	"github.com/rs/zerolog"
)

// DefaultDeployTimeout bounds a deploy when Config.DeployTimeout is zero.
const DefaultDeployTimeout = 30 * time.Minute

// finalizeTimeout bounds the state writes made after the pipeline returns.
const finalizeTimeout = 30 * time.Second

// SourceFetcher acquires a source tree.
type SourceFetcher interface {
	Acquire(ctx context.Context, repoURL, branch, token, destDir string) (*source.Tree, error)
}

// ImageBuilder builds and pushes a container image.
type ImageBuilder interface {
	BuildAndPush(ctx context.Context, req imagebuild.Request) (string, error)
}

// Admission decides whether a config may be deployed.
type Admission interface {
	Admit(ctx context.Context, cfg *engine.ProjectConfig) (*policy.Result, error)
}

// History lists deploy attempts.
type History interface {
	ListDeployments(ctx context.Context, projectID string, limit int) ([]*engine.Deployment, error)
}

// Verifier checks that a provisioned deployment actually serves.
type Verifier interface {
	Verify(ctx context.Context, cfg *engine.ProjectConfig, res *engine.DeploymentResult) error
}

// Config holds orchestrator settings.
type Config struct {
	// DeployTimeout bounds one deploy pipeline.
	DeployTimeout time.Duration

	// Defaults are the environment-wide provider defaults.
	Defaults engine.TargetDefaults

	// Platform is the image build platform.
	Platform string
}

// Dependencies are the collaborators of an Orchestrator. Builder, Policies,
// History, Activities and Verifier are optional.
type Dependencies struct {
	Store      engine.ProjectStore
	Authorizer engine.Authorizer
	Secrets    engine.SecretResolver
	Locker     engine.Locker
	Fetcher    SourceFetcher
	Workspaces *workspace.Manager
	Stager     *workspace.Stager
	Providers  *providers.Registry
	Clients    ClientFactory
	Telemetry  *telemetry.Telemetry

	Builder    ImageBuilder
	Policies   Admission
	History    History
	Activities engine.ActivityRecorder
	Verifier   Verifier
}

// Orchestrator runs deploys and teardowns.
type Orchestrator struct {
	cfg  Config
	deps Dependencies
	tel  *telemetry.Telemetry

	logger zerolog.Logger
	now    func() time.Time
}

// DeployRequest asks for a deploy of one project.
type DeployRequest struct {
	ProjectID string
	UserID    string
}

// TeardownRequest asks for a teardown of one project.
type TeardownRequest struct {
	ProjectID string
	UserID    string
}

// TeardownResult reports a teardown. DestroyErr is set when the stack could
// not be destroyed; the project is archived regardless.
type TeardownResult struct {
	ProjectID  string
	StackID    string
	DestroyErr error
}

// New creates an orchestrator and subscribes the activity recorder, when
// given, to lifecycle events.
func New(cfg Config, deps Dependencies, logger zerolog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("project store is required")
	case deps.Locker == nil:
		return nil, errors.New("locker is required")
	case deps.Fetcher == nil:
		return nil, errors.New("source fetcher is required")
	case deps.Workspaces == nil:
		return nil, errors.New("workspace manager is required")
	case deps.Providers == nil:
		return nil, errors.New("provider registry is required")
	case deps.Clients == nil:
		return nil, errors.New("client factory is required")
	}
	if deps.Authorizer == nil {
		deps.Authorizer = engine.OwnerAuthorizer{}
	}
	if deps.Secrets == nil {
		deps.Secrets = engine.StaticSecrets{}
	}
	if deps.Stager == nil {
		deps.Stager = workspace.NewStager(logger)
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop()
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = DefaultDeployTimeout
	}

	logger = logger.With().Str("component", "orchestrator").Logger()
	if deps.Activities != nil {
		deps.Telemetry.Events.Subscribe(ActivitySubscriber(deps.Activities, logger), nil)
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		tel:    deps.Telemetry,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Deploy runs one deploy attempt of req.ProjectID. Validation, authorization
// and lease failures return before any state change. Once the deploying state
// is persisted every outcome, including the deadline, ends in deployed or
// failed.
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) (*engine.DeploymentResult, error) {
	p, err := o.loadAuthorized(ctx, req.ProjectID, req.UserID)
	if err != nil {
		return nil, err
	}
	if p.Status == engine.ProjectStatusArchived {
		return nil, engine.NewConfigValidationError("project is archived", nil).WithResource(p.Name)
	}

	release, err := o.acquire(ctx, p)
	if err != nil {
		return nil, err
	}
	// The lease passes to the pipeline goroutine when the deadline wins.
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	attemptID := ulid.Make().String()
	logger := o.logger.With().
		Str("project", p.Name).
		Str("stack", engine.StackID(p.Name)).
		Str("attempt_id", attemptID).
		Logger()

	cfg, adapter, err := o.prepareConfig(ctx, p, attemptID)
	if err != nil {
		logger.Warn().Err(err).Msg("Deploy rejected")
		o.tel.Metrics.RecordError(string(engine.ClassOf(err)), engine.CodeOf(err))
		return nil, err
	}

	if err := o.markDeploying(ctx, p); err != nil {
		return nil, err
	}

	started := o.now()
	attempt := &engine.Deployment{
		ID:        attemptID,
		ProjectID: p.ID,
		Status:    engine.AttemptStatusRunning,
		Provider:  cfg.Target,
		StackID:   cfg.StackID,
		StartedAt: started,
	}
	o.tel.Metrics.RecordDeployStarted(string(cfg.Target))
	if err := o.deps.Store.CreateDeployment(ctx, attempt); err != nil {
		o.fail(ctx, p, cfg, attempt, err)
		return nil, err
	}

	o.publish(o.tel.Events.PublishDeployStarted(p.ID, p.UserID, attemptID, string(cfg.Target)))
	logger.Info().Str("provider", string(cfg.Target)).Msg("Deploy started")

	spanCtx, span := o.tel.Tracer.StartDeploySpan(ctx, "deploy", p.Name, attemptID)
	defer span.End()

	runCtx, cancel := context.WithTimeout(spanCtx, o.cfg.DeployTimeout)
	defer cancel()

	type outcome struct {
		result *engine.DeploymentResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.runPipeline(runCtx, cfg, adapter, logger)
		o.cleanupWorkspace(p.Name, logger)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		out.err = runCtx.Err()
		// A late step must not overlap the next attempt.
		handedOff = true
		go func() {
			<-done
			release()
		}()
	}
	if out.err != nil && runCtx.Err() != nil && ctx.Err() == nil {
		// The pipeline may have returned its own wrapping of the deadline.
		out.err = engine.NewTimeoutError(
			fmt.Sprintf("deploy exceeded %s", o.cfg.DeployTimeout), out.err).WithResource(cfg.StackID)
	}

	if out.err != nil {
		out.err = engine.Redact(out.err, automation.NewRedactor(cfg.SecretValues()...).Redact)
		telemetry.RecordError(span, out.err)
		o.fail(ctx, p, cfg, attempt, out.err)
		logger.Error().Err(out.err).Str("code", engine.CodeOf(out.err)).Msg("Deploy failed")
		return nil, out.err
	}

	if err := o.succeed(ctx, p, cfg, attempt, out.result); err != nil {
		return nil, err
	}
	telemetry.RecordSuccess(span)
	logger.Info().Str("url", out.result.URL()).Msg("Deploy succeeded")
	return out.result, nil
}

// loadAuthorized loads a project and checks that userID may act on it.
func (o *Orchestrator) loadAuthorized(ctx context.Context, projectID, userID string) (*engine.Project, error) {
	p, err := o.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Authorizer.Authorize(ctx, userID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// acquire takes the per-project lease without waiting.
func (o *Orchestrator) acquire(ctx context.Context, p *engine.Project) (func(), error) {
	release, ok, err := o.deps.Locker.TryAcquire(ctx, engine.StackID(p.Name))
	if err != nil {
		return nil, engine.NewTransientError("failed to acquire project lease", err).WithResource(p.Name)
	}
	if !ok {
		o.tel.Metrics.RecordLeaseConflict()
		return nil, engine.NewConflictError("another deploy or teardown is in progress", nil).
			WithResource(p.Name)
	}
	return release, nil
}

// prepareConfig builds, validates and admits the config of one attempt.
func (o *Orchestrator) prepareConfig(ctx context.Context, p *engine.Project, attemptID string) (*engine.ProjectConfig, providers.Adapter, error) {
	token, err := o.deps.Secrets.SourceToken(ctx, p.UserID)
	if err != nil {
		return nil, nil, engine.NewSourceAuthError("source credential unavailable, reconnect the source account", err).
			WithResource(p.Name)
	}

	cfg, err := engine.NewProjectConfig(p, engine.ConfigOptions{
		AttemptID:   attemptID,
		SourceToken: token,
		Defaults:    o.cfg.Defaults,
	})
	if err != nil {
		return nil, nil, err
	}

	adapter, err := o.deps.Providers.For(cfg.Target)
	if err != nil {
		return nil, nil, err
	}
	if err := adapter.Validate(cfg); err != nil {
		return nil, nil, err
	}
	if adapter.NeedsSource() && o.deps.Builder == nil {
		return nil, nil, engine.NewEngineUnavailableError("image builder not configured", nil).
			WithResource(string(cfg.Target))
	}

	if o.deps.Policies != nil {
		res, err := o.deps.Policies.Admit(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		for _, w := range res.Warnings {
			o.publish(o.tel.Events.PublishPolicyWarning(p.ID, p.UserID, w.Policy, w.Message))
		}
	}
	return cfg, adapter, nil
}

// markDeploying persists the deploying state. A deploying state left by an
// interrupted attempt is closed as failed first; the lease guarantees no
// other attempt is running.
func (o *Orchestrator) markDeploying(ctx context.Context, p *engine.Project) error {
	if p.DeploymentStatus == engine.DeploymentStatusDeploying {
		msg := "previous deploy was interrupted"
		if err := o.transition(ctx, p, engine.DeploymentUpdate{
			Status:    engine.DeploymentStatusFailed,
			LastError: &msg,
		}); err != nil {
			return err
		}
		o.logger.Warn().Str("project", p.Name).Msg("Closed interrupted deploy")
	}
	return o.transition(ctx, p, engine.DeploymentUpdate{Status: engine.DeploymentStatusDeploying})
}

// transition writes update if the status graph allows it and mirrors the
// change on p.
func (o *Orchestrator) transition(ctx context.Context, p *engine.Project, update engine.DeploymentUpdate) error {
	if !p.DeploymentStatus.CanTransitionTo(update.Status) {
		return engine.NewConflictError(
			fmt.Sprintf("illegal status transition %s -> %s", p.DeploymentStatus, update.Status), nil).
			WithResource(p.Name)
	}
	if err := o.deps.Store.UpdateDeploymentState(ctx, p.ID, update); err != nil {
		return fmt.Errorf("failed to persist %s state: %w", update.Status, err)
	}
	p.DeploymentStatus = update.Status
	if update.URL != nil {
		p.DeploymentURL = *update.URL
	}
	if update.LastDeployedAt != nil {
		p.LastDeployedAt = update.LastDeployedAt
	}
	if update.LastError != nil {
		p.LastError = *update.LastError
	}
	return nil
}

func (o *Orchestrator) succeed(ctx context.Context, p *engine.Project, cfg *engine.ProjectConfig, attempt *engine.Deployment, res *engine.DeploymentResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	now := o.now()
	url := res.URL()
	cleared := ""
	err := o.transition(ctx, p, engine.DeploymentUpdate{
		Status:         engine.DeploymentStatusDeployed,
		URL:            &url,
		LastDeployedAt: &now,
		LastError:      &cleared,
	})
	if ferr := o.deps.Store.FinishDeployment(ctx, attempt.ID, engine.AttemptStatusSucceeded, url, "", "", now); ferr != nil {
		o.logger.Error().Err(ferr).Str("attempt_id", attempt.ID).Msg("Failed to close attempt record")
	}

	o.tel.Metrics.RecordDeployCompleted(string(cfg.Target), string(engine.AttemptStatusSucceeded), now.Sub(attempt.StartedAt))
	o.publish(o.tel.Events.PublishDeploySucceeded(p.ID, p.UserID, attempt.ID, url, now.Sub(attempt.StartedAt)))
	return err
}

func (o *Orchestrator) fail(ctx context.Context, p *engine.Project, cfg *engine.ProjectConfig, attempt *engine.Deployment, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	now := o.now()
	msg := scrubbed(cfg, cause)
	code := engine.CodeOf(cause)
	if code == "" {
		code = engine.ErrCodeInternal
	}

	if err := o.transition(ctx, p, engine.DeploymentUpdate{
		Status:    engine.DeploymentStatusFailed,
		LastError: &msg,
	}); err != nil {
		o.logger.Error().Err(err).Str("project", p.Name).Msg("Failed to persist failed state")
	}
	if err := o.deps.Store.FinishDeployment(ctx, attempt.ID, engine.AttemptStatusFailed, "", msg, code, now); err != nil {
		o.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("Failed to close attempt record")
	}

	o.tel.Metrics.RecordDeployCompleted(string(cfg.Target), string(engine.AttemptStatusFailed), now.Sub(attempt.StartedAt))
	o.tel.Metrics.RecordError(string(engine.ClassOf(cause)), code)
	o.publish(o.tel.Events.PublishDeployFailed(p.ID, p.UserID, attempt.ID, code, msg))
}

func (o *Orchestrator) cleanupWorkspace(name string, logger zerolog.Logger) {
	if err := o.deps.Workspaces.Cleanup(name); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove workspace")
	}
}

// publish logs events the publisher could not accept. Event delivery never
// fails a deploy.
func (o *Orchestrator) publish(err error) {
	if err != nil {
		o.logger.Warn().Err(err).Msg("Lifecycle event dropped")
	}
}
