package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
)

// DefaultBinary is the engine executable looked up on PATH.
const DefaultBinary = "pulumi"

// CLIConfig configures a CLIGateway. Every value the engine needs is passed
// explicitly; the gateway never inherits credentials from the process.
type CLIConfig struct {
	// Binary is the engine executable. Empty means DefaultBinary.
	Binary string

	// ProgramDir is the directory holding Pulumi.yaml.
	ProgramDir string

	// BackendURL is the state backend, e.g. file:///var/lib/froyo/state.
	BackendURL string

	// Passphrase encrypts secret config in the state backend.
	Passphrase string

	// Env carries provider credentials such as AWS_ACCESS_KEY_ID or
	// DIGITALOCEAN_TOKEN.
	Env map[string]string
}

// CLIGateway implements EngineGateway by running the engine binary.
type CLIGateway struct {
	binary string
	dir    string
	env    []string
	logger zerolog.Logger
}

var _ EngineGateway = (*CLIGateway)(nil)

// NewCLIGateway resolves the engine binary and builds the call environment.
// A missing binary is an EngineUnavailableError.
func NewCLIGateway(cfg CLIConfig, logger zerolog.Logger) (*CLIGateway, error) {
	bin := cfg.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, engine.NewEngineUnavailableError("engine binary not found", err).WithResource(bin)
	}
	if cfg.ProgramDir == "" {
		return nil, fmt.Errorf("program directory is required")
	}

	return &CLIGateway{
		binary: path,
		dir:    cfg.ProgramDir,
		env:    buildEnv(cfg),
		logger: logger.With().Str("component", "engine-cli").Logger(),
	}, nil
}

func buildEnv(cfg CLIConfig) []string {
	env := map[string]string{
		"PULUMI_SKIP_UPDATE_CHECK": "true",
	}
	// PATH and HOME are needed to locate plugins; nothing else is inherited.
	for _, k := range []string{"PATH", "HOME"} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	if cfg.BackendURL != "" {
		env["PULUMI_BACKEND_URL"] = cfg.BackendURL
	}
	env["PULUMI_CONFIG_PASSPHRASE"] = cfg.Passphrase
	for k, v := range cfg.Env {
		env[k] = v
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// run executes the binary with args and returns stdout and the combined log.
func (g *CLIGateway) run(ctx context.Context, stdin string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = g.dir
	cmd.Env = g.env
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout bytes.Buffer
	combined := &lockedBuffer{}
	cmd.Stdout = io.MultiWriter(&stdout, combined)
	cmd.Stderr = combined

	g.logger.Debug().Strs("args", args).Msg("Running engine command")

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return stdout.String(), combined.String(), ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), combined.String(),
				fmt.Errorf("%s exited with code %d", args[0], exitErr.ExitCode())
		}
		return stdout.String(), combined.String(),
			engine.NewEngineUnavailableError("failed to execute engine", err)
	}
	return stdout.String(), combined.String(), nil
}

// ListStacks implements EngineGateway.
func (g *CLIGateway) ListStacks(ctx context.Context) ([]StackSummary, error) {
	out, log, err := g.run(ctx, "", "stack", "ls", "--json", "--non-interactive")
	if err != nil {
		return nil, engine.NewEngineUnavailableError("failed to list stacks", fmt.Errorf("%w: %s", err, tail(log)))
	}

	var raw []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, engine.NewEngineUnavailableError("failed to decode stack listing", err)
	}
	stacks := make([]StackSummary, 0, len(raw))
	for _, s := range raw {
		stacks = append(stacks, StackSummary{Name: lastSegment(s.Name), FullName: s.Name})
	}
	return stacks, nil
}

// CreateStack implements EngineGateway.
func (g *CLIGateway) CreateStack(ctx context.Context, name string) error {
	if _, log, err := g.run(ctx, "", "stack", "init", name, "--non-interactive"); err != nil {
		return fmt.Errorf("failed to create stack %s: %w: %s", name, err, tail(log))
	}
	return nil
}

// RemoveStack implements EngineGateway.
func (g *CLIGateway) RemoveStack(ctx context.Context, name string, force bool) error {
	args := []string{"stack", "rm", name, "--yes", "--non-interactive"}
	if force {
		args = append(args, "--force")
	}
	if _, log, err := g.run(ctx, "", args...); err != nil {
		return fmt.Errorf("failed to remove stack %s: %w: %s", name, err, tail(log))
	}
	return nil
}

// SetConfig implements EngineGateway. The value is written to stdin so it
// never appears in the process arguments.
func (g *CLIGateway) SetConfig(ctx context.Context, stack, key, value string, secret bool) error {
	args := []string{"config", "set", "--stack", stack, "--non-interactive"}
	if secret {
		args = append(args, "--secret")
	} else {
		args = append(args, "--plaintext")
	}
	args = append(args, key)

	stdin := value
	if stdin == "" {
		// An empty stdin makes the CLI prompt; pass the empty value explicitly.
		args = append(args, "--", "")
	}
	if _, _, err := g.run(ctx, stdin, args...); err != nil {
		return fmt.Errorf("failed to set config %s on %s: %w", key, stack, err)
	}
	return nil
}

// Apply implements EngineGateway.
func (g *CLIGateway) Apply(ctx context.Context, stack string) (ApplyOutput, error) {
	_, log, err := g.run(ctx, "", "up", "--yes", "--skip-preview", "--non-interactive", "--stack", stack)
	if err != nil {
		return ApplyOutput{RawLog: log}, fmt.Errorf("apply of %s failed: %w", stack, err)
	}

	out, outLog, err := g.run(ctx, "", "stack", "output", "--json", "--show-secrets", "--stack", stack)
	if err != nil {
		return ApplyOutput{RawLog: log + outLog}, fmt.Errorf("failed to read outputs of %s: %w", stack, err)
	}
	outputs := make(map[string]any)
	if strings.TrimSpace(out) != "" {
		if err := json.Unmarshal([]byte(out), &outputs); err != nil {
			return ApplyOutput{RawLog: log}, fmt.Errorf("failed to decode outputs of %s: %w", stack, err)
		}
	}
	return ApplyOutput{Outputs: outputs, RawLog: log}, nil
}

// Destroy implements EngineGateway.
func (g *CLIGateway) Destroy(ctx context.Context, stack string) (string, error) {
	_, log, err := g.run(ctx, "", "destroy", "--yes", "--skip-preview", "--non-interactive", "--stack", stack)
	if err != nil {
		return log, fmt.Errorf("destroy of %s failed: %w", stack, err)
	}
	return log, nil
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// tail keeps the end of a log for error messages.
func tail(log string) string {
	const max = 2048
	log = strings.TrimSpace(log)
	if len(log) > max {
		return "..." + log[len(log)-max:]
	}
	return log
}

// lockedBuffer is written by the stdout and stderr copy goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
