package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/config"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/imagebuild"
	"github.com/openfroyo/froyodeploy/pkg/lease"
	"github.com/openfroyo/froyodeploy/pkg/orchestrator"
	"github.com/openfroyo/froyodeploy/pkg/policy"
	"github.com/openfroyo/froyodeploy/pkg/providers"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/openfroyo/froyodeploy/pkg/telemetry"
	sshverify "github.com/openfroyo/froyodeploy/pkg/transports/ssh"
	"github.com/openfroyo/froyodeploy/pkg/workspace"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app holds the wired collaborators of one command invocation.
type app struct {
	cfg      *config.Config
	store    *stores.SQLiteStore
	tel      *telemetry.Telemetry
	projects *orchestrator.Projects
	fetcher  *source.Fetcher
	secrets  engine.SecretResolver
	policies *policy.Engine
	orch     *orchestrator.Orchestrator
	logger   zerolog.Logger

	closers []func() error
}

type appOptions struct {
	// orchestrator wires the deploy pipeline.
	orchestrator bool

	// watchPolicies hot reloads policy files.
	watchPolicies bool

	// checkRepositories makes project registration confirm that the
	// repository and branch exist.
	checkRepositories bool
}

// openApp loads the config and opens the store. The deploy pipeline is only
// wired when opts.orchestrator is set.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath, dataDir)
	if err != nil {
		return nil, err
	}
	logger := log.Logger

	store, err := stores.Open(ctx, stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open database (run 'froyo-deploy init' first?): %w", err)
	}
	a := &app{cfg: cfg, store: store, logger: logger}
	a.closers = append(a.closers, store.Close)

	tel, err := telemetry.NewTelemetryWithLogger(telemetryConfig(cfg), telemetry.Wrap(logger))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return tel.Shutdown(shutdownCtx)
	})
	tel.Events.Subscribe(orchestrator.ActivitySubscriber(store, logger), nil)
	a.fetcher = source.NewFetcher(source.Config{APIURL: cfg.Source.APIURL, Timeout: cfg.Source.Timeout}, logger)
	a.secrets = engine.StaticSecrets{Token: cfg.Source.Token}
	a.projects = orchestrator.NewProjects(store, tel.Events)
	if opts.checkRepositories {
		a.projects.CheckRepositories(a.fetcher, a.secrets)
	}

	if a.policies, err = policy.NewEngine(logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if err := a.loadPolicies(ctx, opts.watchPolicies); err != nil {
		a.Close()
		return nil, err
	}

	if opts.orchestrator {
		if err := a.wireOrchestrator(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) loadPolicies(ctx context.Context, watch bool) error {
	paths := a.cfg.Policy.Paths
	if len(paths) == 0 {
		return nil
	}
	if watch && a.cfg.Policy.Watch {
		loader, err := a.policies.Watch(ctx, paths)
		if err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
		a.closers = append(a.closers, loader.StopWatching)
		return nil
	}
	if err := a.policies.LoadPolicies(ctx, paths); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return nil
}

func (a *app) wireOrchestrator(ctx context.Context) error {
	cfg := a.cfg

	defaults, err := cfg.TargetDefaults()
	if err != nil {
		return err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		return err
	}

	workspaces, err := workspace.NewManager(cfg.Deploy.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("failed to prepare workspace root: %w", err)
	}

	builder, err := imagebuild.NewFromEnv(cfg.Docker.Host, a.logger)
	if err != nil {
		// Only container-cluster deploys need a builder.
		a.logger.Warn().Err(err).Msg("Image builder unavailable")
		builder = nil
	}

	deps := orchestrator.Dependencies{
		Store:      a.store,
		Secrets:    a.secrets,
		Locker:     locker,
		Fetcher:    a.fetcher,
		Workspaces: workspaces,
		Stager:     workspace.NewStager(a.logger),
		Providers:  providers.DefaultRegistry(),
		Clients: orchestrator.CLIClientFactory(automation.CLIConfig{
			Binary:     cfg.Engine.Binary,
			BackendURL: cfg.Engine.BackendURL,
			Passphrase: cfg.Engine.Passphrase,
			Env:        cfg.EngineEnv(),
		}, a.logger),
		Telemetry: a.tel,
		Policies:  a.policies,
		History:   a.store,
	}
	if builder != nil {
		deps.Builder = builder
	}
	if v := cfg.Verify; v.Enabled {
		deps.Verifier = sshverify.NewVerifier(sshverify.VerifyConfig{
			User:           v.User,
			PrivateKeyPath: cfg.OperatorPrivateKeyPath(),
			KnownHostsPath: v.KnownHostsPath,
			ReadyTimeout:   v.ReadyTimeout,
			LogPath:        v.LogPath,
		}, a.logger)
	}

	a.orch, err = orchestrator.New(orchestrator.Config{
		DeployTimeout: cfg.Deploy.Timeout,
		Defaults:      defaults,
		Platform:      cfg.Docker.Platform,
	}, deps, a.logger)
	return err
}

func (a *app) openLocker(ctx context.Context) (engine.Locker, error) {
	if a.cfg.Lease.Backend != "redis" {
		return lease.NewMemory(), nil
	}
	r := a.cfg.Lease.Redis
	locker, err := lease.NewRedis(ctx, lease.RedisConfig{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		TTL:      r.TTL,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, locker.Close)
	return locker, nil
}

// Close releases everything openApp opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
	a.closers = nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if exp := cfg.Telemetry.TraceExporter; exp != "" && exp != "none" {
		tc.Tracing.Enabled = true
		tc.Tracing.Exporter = exp
		tc.Tracing.Endpoint = cfg.Telemetry.OTLPEndpoint
	}
	return tc
}
