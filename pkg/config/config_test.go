package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "froyo.db"), cfg.Database.Path)
	assert.Equal(t, "managed-platform", cfg.Deploy.DefaultProvider)
	assert.Equal(t, 30*time.Minute, cfg.Deploy.Timeout)
	assert.Equal(t, "memory", cfg.Lease.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lease.Redis.TTL)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
	assert.False(t, cfg.Verify.Enabled)
	assert.Equal(t, "root", cfg.Verify.User)
	assert.Equal(t, filepath.Join(dir, "id_ed25519"), cfg.OperatorPrivateKeyPath())
	assert.Empty(t, cfg.Secrets())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
deploy:
  default_provider: container-cluster
  timeout: 5m
aws:
  registry: 123456789012.dkr.ecr.us-east-1.amazonaws.com/apps
`), 0o600))

	t.Setenv("FROYO_DEPLOY_DEFAULT_PROVIDER", "virtual-machine")
	t.Setenv("FROYO_DIGITALOCEAN_TOKEN", "do-token")

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, "virtual-machine", cfg.Deploy.DefaultProvider)
	assert.Equal(t, 5*time.Minute, cfg.Deploy.Timeout)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/apps", cfg.AWS.Registry)
	assert.Equal(t, map[string]string{"AWS_REGION": "us-east-1", "DIGITALOCEAN_TOKEN": "do-token"}, cfg.EngineEnv())
	assert.Equal(t, []string{"do-token"}, cfg.Secrets())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown provider", func(c *Config) { c.Deploy.DefaultProvider = "mainframe" }},
		{"zero timeout", func(c *Config) { c.Deploy.Timeout = 0 }},
		{"unknown lease backend", func(c *Config) { c.Lease.Backend = "etcd" }},
		{"redis without addr", func(c *Config) {
			c.Lease.Backend = "redis"
			c.Lease.Redis.Addr = ""
		}},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TraceExporter = "otlp" }},
		{"verify without timeout", func(c *Config) {
			c.Verify.Enabled = true
			c.Verify.ReadyTimeout = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Starter(t.TempDir())
			require.NoError(t, err)
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, engine.ErrConfigValidation)
		})
	}
}

func TestTargetDefaultsReadsOperatorKey(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Starter(dir)
	require.NoError(t, err)

	d, err := cfg.TargetDefaults()
	require.NoError(t, err)
	assert.Empty(t, d.SSHAuthorizedKey)
	assert.Equal(t, engine.ProviderManagedPlatform, d.DefaultProvider)

	require.NoError(t, os.WriteFile(cfg.DigitalOcean.SSHKeyPath, []byte("ssh-ed25519 AAAA operator\n"), 0o600))
	d, err = cfg.TargetDefaults()
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519 AAAA operator", d.SSHAuthorizedKey)
}

func TestWriteStarterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg, err := Starter(dir)
	require.NoError(t, err)
	require.NoError(t, WriteStarter(path, cfg, false))
	assert.Error(t, WriteStarter(path, cfg, false))
	require.NoError(t, WriteStarter(path, cfg, true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "FROYO_DEPLOY_DEFAULT_PROVIDER")

	loaded, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Deploy, loaded.Deploy)
	assert.Equal(t, cfg.Server.Addr, loaded.Server.Addr)
}
