package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
)

// Client is the typed wrapper over an EngineGateway used by one deploy call.
// It owns the redactor, so every error and log it returns is already scrubbed.
type Client struct {
	gateway    EngineGateway
	programDir string
	redactor   *Redactor
	logger     zerolog.Logger

	mu       sync.Mutex
	inflight map[string]string
	config   map[string]map[string]configEntry
}

type configEntry struct {
	value  string
	secret bool
}

// ClientOptions configure a Client.
type ClientOptions struct {
	// ProgramDir is where WriteProgram places the program document.
	ProgramDir string

	// Secrets are redacted from the start, before they are set as config.
	Secrets []string
}

// NewClient creates a new client over gw.
func NewClient(gw EngineGateway, opts ClientOptions, logger zerolog.Logger) *Client {
	return &Client{
		gateway:    gw,
		programDir: opts.ProgramDir,
		redactor:   NewRedactor(opts.Secrets...),
		logger:     logger.With().Str("component", "automation-client").Logger(),
		inflight:   make(map[string]string),
		config:     make(map[string]map[string]configEntry),
	}
}

// Redactor exposes the client's redactor so callers can scrub their own text.
func (c *Client) Redactor() *Redactor {
	return c.redactor
}

// WriteProgram writes p into the client's program directory.
func (c *Client) WriteProgram(p *Program) (string, error) {
	if c.programDir == "" {
		return "", engine.NewStageError("program directory not configured", nil)
	}
	path, err := WriteProgram(c.programDir, p)
	if err != nil {
		return "", engine.NewStageError("failed to write program", err)
	}
	return path, nil
}

// StackExists reports whether the engine knows stack id.
func (c *Client) StackExists(ctx context.Context, id string) (bool, error) {
	stacks, err := c.gateway.ListStacks(ctx)
	if err != nil {
		if engine.HasCode(err, engine.ErrCodeEngineUnavailable) || ctx.Err() != nil {
			return false, c.scrub(err)
		}
		return false, engine.NewEngineUnavailableError("failed to list stacks", c.scrub(err))
	}
	for _, s := range stacks {
		if s.Name == id || lastSegment(s.FullName) == id {
			return true, nil
		}
	}
	return false, nil
}

// EnsureStack creates stack id when it does not exist.
func (c *Client) EnsureStack(ctx context.Context, id string) error {
	exists, err := c.StackExists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug().Str("stack", id).Msg("Reusing existing stack")
		return nil
	}
	if err := c.gateway.CreateStack(ctx, id); err != nil {
		return engine.NewEngineUnavailableError("failed to create stack", c.scrub(err)).WithResource(id)
	}
	c.logger.Info().Str("stack", id).Msg("Stack created")
	return nil
}

// SetConfig sets one config value on stack id. The value is recorded for
// redaction before it reaches the gateway.
func (c *Client) SetConfig(ctx context.Context, id, key, value string, secret bool) error {
	if secret {
		c.redactor.Add(value)
	}
	c.mu.Lock()
	if c.config[id] == nil {
		c.config[id] = make(map[string]configEntry)
	}
	c.config[id][key] = configEntry{value: value, secret: secret}
	c.mu.Unlock()

	if err := c.gateway.SetConfig(ctx, id, key, value, secret); err != nil {
		return engine.NewEngineUnavailableError("failed to set config", c.scrub(err)).
			WithResource(id).
			WithOperation("config set " + key)
	}
	return nil
}

// Up applies stack id and returns the uniform result plus the raw outputs.
func (c *Client) Up(ctx context.Context, id string) (*engine.DeploymentResult, map[string]any, error) {
	done, err := c.begin(id, "up")
	if err != nil {
		return nil, nil, err
	}
	defer done()

	start := time.Now()
	out, err := c.gateway.Apply(ctx, id)
	rawLog := c.redactor.Redact(out.RawLog)
	if err != nil {
		c.logger.Error().Str("stack", id).Dur("duration", time.Since(start)).Msg("Apply failed")
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, engine.NewProvisionError(id, c.reportedConfig(id), rawLog, c.scrub(err)).
			WithOperation("up")
	}

	c.logger.Info().
		Str("stack", id).
		Int("outputs", len(out.Outputs)).
		Dur("duration", time.Since(start)).
		Msg("Apply succeeded")

	return &engine.DeploymentResult{
		Success: true,
		Outputs: stringOutputs(out.Outputs),
		RawLog:  rawLog,
	}, out.Outputs, nil
}

// Destroy tears down stack id and removes it. A missing stack is a no-op.
func (c *Client) Destroy(ctx context.Context, id string) (*engine.DeploymentResult, error) {
	done, err := c.begin(id, "destroy")
	if err != nil {
		return nil, err
	}
	defer done()

	exists, err := c.StackExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		c.logger.Debug().Str("stack", id).Msg("Stack absent, nothing to destroy")
		return &engine.DeploymentResult{Success: true, Outputs: map[string]string{}}, nil
	}

	log, err := c.gateway.Destroy(ctx, id)
	rawLog := c.redactor.Redact(log)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, engine.NewProvisionError(id, c.reportedConfig(id), rawLog, c.scrub(err)).
			WithOperation("destroy")
	}
	if err := c.gateway.RemoveStack(ctx, id, true); err != nil {
		return nil, engine.NewProvisionError(id, c.reportedConfig(id), rawLog, c.scrub(err)).
			WithOperation("stack rm")
	}

	c.logger.Info().Str("stack", id).Msg("Stack destroyed")
	return &engine.DeploymentResult{Success: true, Outputs: map[string]string{}, RawLog: rawLog}, nil
}

// begin marks id busy for op. A second caller gets a ConflictError.
func (c *Client) begin(id, op string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running, busy := c.inflight[id]; busy {
		return nil, engine.NewConflictError(
			fmt.Sprintf("%s already in progress on stack", running), nil).
			WithResource(id).
			WithOperation(op)
	}
	c.inflight[id] = op
	return func() {
		c.mu.Lock()
		delete(c.inflight, id)
		c.mu.Unlock()
	}, nil
}

// reportedConfig returns the config set on id with secrets masked.
func (c *Client) reportedConfig(id string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.config[id]))
	for k, e := range c.config[id] {
		if e.secret {
			out[k] = Redacted
			continue
		}
		out[k] = c.redactor.Redact(e.value)
	}
	return out
}

// scrub removes recorded secrets from the text of err. Engine errors keep
// their classification.
func (c *Client) scrub(err error) error {
	return engine.Redact(err, c.redactor.Redact)
}

func stringOutputs(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
