package orchestrator

import (
	"github.com/openfroyo/froyodeploy/pkg/automation"
	"github.com/rs/zerolog"
)

// ClientFactory builds the automation client of one deploy or teardown call.
// programDir holds the program document; secrets are redacted from the start.
type ClientFactory func(programDir string, secrets []string) (*automation.Client, error)

// CLIClientFactory returns a factory that runs the engine binary with base
// as the call environment.
func CLIClientFactory(base automation.CLIConfig, logger zerolog.Logger) ClientFactory {
	return func(programDir string, secrets []string) (*automation.Client, error) {
		cfg := base
		cfg.ProgramDir = programDir
		gw, err := automation.NewCLIGateway(cfg, logger)
		if err != nil {
			return nil, err
		}
		return automation.NewClient(gw, automation.ClientOptions{
			ProgramDir: programDir,
			Secrets:    secrets,
		}, logger), nil
	}
}

// GatewayClientFactory returns a factory over a fixed gateway.
func GatewayClientFactory(gw automation.EngineGateway, logger zerolog.Logger) ClientFactory {
	return func(programDir string, secrets []string) (*automation.Client, error) {
		return automation.NewClient(gw, automation.ClientOptions{
			ProgramDir: programDir,
			Secrets:    secrets,
		}, logger), nil
	}
}
