package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const stack = "project-stack-demo-app"

func TestEnsureStackIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.EnsureStack(ctx, stack))
	require.NoError(t, c.EnsureStack(ctx, stack))
	assert.Equal(t, 1, gw.creates)

	ok, err := c.StackExists(ctx, stack)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.StackExists(ctx, "project-stack-other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStackExistsMatchesQualifiedName(t *testing.T) {
	gw := newFakeGateway()
	gw.stacks[stack] = true
	c := NewClient(&qualifiedOnly{gw}, ClientOptions{}, zerolog.Nop())

	ok, err := c.StackExists(context.Background(), stack)
	require.NoError(t, err)
	assert.True(t, ok)
}

type qualifiedOnly struct{ *fakeGateway }

func (q *qualifiedOnly) ListStacks(ctx context.Context) ([]StackSummary, error) {
	stacks, err := q.fakeGateway.ListStacks(ctx)
	for i := range stacks {
		stacks[i].Name = ""
	}
	return stacks, err
}

func TestStackListingFailureIsRetryable(t *testing.T) {
	gw := newFakeGateway()
	gw.listErr = errors.New("backend unreachable")
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())

	err := c.EnsureStack(context.Background(), stack)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrEngineUnavailable)
	assert.True(t, engine.IsRetryable(err))
	assert.Zero(t, gw.creates)
}

func TestUpFailureRedactsSecrets(t *testing.T) {
	const secret = "sup3r-s3cret-value"
	gw := newFakeGateway()
	gw.applyErr = errors.New("resource creation failed with token " + secret)
	gw.applyLog = "updating... env API_KEY=" + secret + "\nerror: boom"
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.EnsureStack(ctx, stack))
	require.NoError(t, c.SetConfig(ctx, stack, "apiKey", secret, true))
	require.NoError(t, c.SetConfig(ctx, stack, "region", "nyc1", false))

	_, _, err := c.Up(ctx, stack)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrProvision)
	assert.NotContains(t, err.Error(), secret)

	config, rawLog, ok := engine.ProvisionDetails(err)
	require.True(t, ok)
	assert.NotContains(t, rawLog, secret)
	assert.Contains(t, rawLog, Redacted)
	assert.Equal(t, Redacted, config["apiKey"])
	assert.Equal(t, "nyc1", config["region"])

	// The gateway still received the real value.
	assert.Equal(t, secret, gw.config[stack]["apiKey"])
}

func TestUpReturnsOutputs(t *testing.T) {
	gw := newFakeGateway()
	gw.outputs = map[string]any{"url": "http://demo.example", "resourceId": "app-1", "count": float64(2)}
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())

	result, raw, err := c.Up(context.Background(), stack)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "http://demo.example", result.URL())
	assert.Equal(t, "2", result.Outputs["count"])
	assert.Equal(t, "app-1", raw["resourceId"])
}

func TestConcurrentUpConflicts(t *testing.T) {
	gw := newFakeGateway()
	gw.applyGate = make(chan struct{})
	gw.applying = make(chan struct{}, 1)
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.Up(context.Background(), stack)
		errCh <- err
	}()
	<-gw.applying

	_, _, err := c.Up(context.Background(), stack)
	assert.ErrorIs(t, err, engine.ErrConflict)

	_, err = c.Destroy(context.Background(), stack)
	assert.ErrorIs(t, err, engine.ErrConflict)

	close(gw.applyGate)
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, gw.applies)
}

func TestDestroyMissingStackIsNoop(t *testing.T) {
	gw := newFakeGateway()
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())

	result, err := c.Destroy(context.Background(), stack)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, gw.removes)
}

func TestDestroyRemovesStack(t *testing.T) {
	gw := newFakeGateway()
	gw.stacks[stack] = true
	c := NewClient(gw, ClientOptions{}, zerolog.Nop())

	_, err := c.Destroy(context.Background(), stack)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.removes)
	assert.False(t, gw.stacks[stack])
}

func TestRedactorPrefersLongestMatch(t *testing.T) {
	r := NewRedactor("abc", "abcdef", "")
	assert.Equal(t, "x [REDACTED] y", r.Redact("x abcdef y"))
	assert.Equal(t, "plain", r.Redact("plain"))
}

func TestWriteProgram(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(newFakeGateway(), ClientOptions{ProgramDir: dir}, zerolog.Nop())

	p := NewProgram("froyo-demo-app", "demo")
	p.DeclareConfig("userData", true)
	p.Add("bucket", "aws:s3:Bucket", map[string]any{"acl": "private"})
	p.Add("policy", "aws:s3:BucketPolicy", map[string]any{"bucket": Ref("bucket.id")}, "bucket")
	p.Outputs["url"] = Ref("bucket.websiteEndpoint")

	path, err := c.WriteProgram(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ProgramFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "runtime: yaml")

	var back Program
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, []string{"bucket"}, back.Resources["policy"].Options.DependsOn)
	assert.True(t, back.Config["userData"].Secret)
}

func TestWriteProgramRejectsEmpty(t *testing.T) {
	_, err := WriteProgram(t.TempDir(), NewProgram("empty", ""))
	assert.Error(t, err)
}

func TestLiteralSurvivesInterpolation(t *testing.T) {
	assert.Equal(t, "make VERSION=$${GIT_SHA}", Literal("make VERSION=${GIT_SHA}"))
	assert.Equal(t, "cost: $5", Literal("cost: $5"))
	assert.Equal(t, "$$${x}", Literal("$${x}"))
	assert.Equal(t, "${bucket.id}", Ref("bucket.id"))
}
