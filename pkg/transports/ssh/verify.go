package ssh

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/providers"
	"github.com/rs/zerolog"
)

// Verification defaults.
const (
	DefaultVerifyUser   = "root"
	DefaultReadyTimeout = 10 * time.Minute
	DefaultBootstrapLog = "/var/log/cloud-init-output.log"
	DefaultLogTail      = 4096
)

// bootstrapDone waits for cloud-init. Exit code 2 means it finished with
// recoverable errors, which still leaves the app unit in charge.
const bootstrapDone = "cloud-init status --wait >/dev/null || [ $? -eq 2 ]"

// VerifyConfig configures a Verifier.
type VerifyConfig struct {
	User           string
	Port           int
	PrivateKeyPath string
	KnownHostsPath string

	// ReadyTimeout bounds the whole verification, from the first dial to the
	// unit check.
	ReadyTimeout time.Duration

	// LogPath is the instance bootstrap log attached to failures.
	LogPath string

	// LogTail is how many trailing bytes of LogPath are kept.
	LogTail int64
}

// Verifier checks virtual-machine deployments: the bootstrap script finished
// and the project's systemd unit is active. Other targets pass through.
type Verifier struct {
	cfg    VerifyConfig
	logger zerolog.Logger

	// dialInitial and dialMax shape the reconnect backoff.
	dialInitial time.Duration
	dialMax     time.Duration
}

// NewVerifier creates a verifier.
func NewVerifier(cfg VerifyConfig, logger zerolog.Logger) *Verifier {
	if cfg.User == "" {
		cfg.User = DefaultVerifyUser
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultBootstrapLog
	}
	if cfg.LogTail <= 0 {
		cfg.LogTail = DefaultLogTail
	}
	return &Verifier{
		cfg:         cfg,
		logger:      logger.With().Str("component", "vm-verify").Logger(),
		dialInitial: 2 * time.Second,
		dialMax:     15 * time.Second,
	}
}

// Verify implements the orchestrator's verification hook. Failures are
// ProvisionErrors carrying the redacted tail of the bootstrap log.
func (p *Verifier) Verify(ctx context.Context, cfg *engine.ProjectConfig, res *engine.DeploymentResult) error {
	if cfg.Target != engine.ProviderVirtualMachine || res == nil {
		return nil
	}
	address := res.Outputs[engine.OutputAddress]
	if address == "" {
		p.logger.Warn().Str("stack", cfg.StackID).Msg("No instance address in outputs, skipping verification")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReadyTimeout)
	defer cancel()

	client, err := p.connect(ctx, address)
	if err != nil {
		return engine.NewProvisionError(cfg.StackID, nil, "",
			fmt.Errorf("instance %s unreachable over ssh: %w", address, err))
	}
	defer client.Close()

	unit := providers.VMUnitName(cfg.Name) + ".service"
	checks := []string{bootstrapDone, "systemctl is-active --quiet " + unit}
	for _, check := range checks {
		if _, _, err := client.Run(ctx, check); err != nil {
			tail := p.bootstrapLog(ctx, client, cfg)
			return engine.NewProvisionError(cfg.StackID, nil, tail,
				fmt.Errorf("instance %s not ready: %w", address, err))
		}
	}

	p.logger.Info().
		Str("stack", cfg.StackID).
		Str("address", address).
		Str("unit", unit).
		Msg("Instance verified")
	return nil
}

func (p *Verifier) connect(ctx context.Context, address string) (*Client, error) {
	conf := DefaultConfig(address, p.cfg.User)
	conf.Port = p.cfg.Port
	conf.PrivateKeyPath = p.cfg.PrivateKeyPath
	conf.KnownHostsPath = p.cfg.KnownHostsPath
	conf.CommandTimeout = p.cfg.ReadyTimeout

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.dialInitial
	b.MaxInterval = p.dialMax

	// The operator key lands on the instance during boot, so auth failures
	// are retried like refused connections.
	return backoff.Retry(ctx, func() (*Client, error) {
		return Dial(ctx, conf, p.logger)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(p.cfg.ReadyTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug().Err(err).Str("address", address).Dur("retry_in", next).Msg("Instance not reachable yet")
		}),
	)
}

func (p *Verifier) bootstrapLog(ctx context.Context, client *Client, cfg *engine.ProjectConfig) string {
	data, err := client.ReadFile(ctx, p.cfg.LogPath, p.cfg.LogTail)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", p.cfg.LogPath).Msg("Failed to read bootstrap log")
		return ""
	}
	return automation.NewRedactor(cfg.SecretValues()...).Redact(string(data))
}
