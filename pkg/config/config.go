package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "FROYO"

// FileName is the config file name looked up in the data dir.
const FileName = "config.yaml"

// Config is the complete application configuration.
type Config struct {
	DataDir      string             `mapstructure:"data_dir" yaml:"data_dir" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Source       SourceConfig       `mapstructure:"source" yaml:"source"`
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Deploy       DeployConfig       `mapstructure:"deploy" yaml:"deploy"`
	AWS          AWSConfig          `mapstructure:"aws" yaml:"aws"`
	DigitalOcean DigitalOceanConfig `mapstructure:"digitalocean" yaml:"digitalocean"`
	Docker       DockerConfig       `mapstructure:"docker" yaml:"docker"`
	Lease        LeaseConfig        `mapstructure:"lease" yaml:"lease"`
	Policy       PolicyConfig       `mapstructure:"policy" yaml:"policy"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
	Verify       VerifyConfig       `mapstructure:"verify" yaml:"verify"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path" validate:"required"`
}

// SourceConfig configures the source-hosting API.
type SourceConfig struct {
	APIURL  string        `mapstructure:"api_url" yaml:"api_url" validate:"required,url"`
	Token   string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EngineConfig configures the infrastructure engine CLI.
type EngineConfig struct {
	Binary     string `mapstructure:"binary" yaml:"binary" validate:"required"`
	BackendURL string `mapstructure:"backend_url" yaml:"backend_url" validate:"required"`
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
}

// DeployConfig configures the orchestrator.
type DeployConfig struct {
	DefaultProvider string        `mapstructure:"default_provider" yaml:"default_provider" validate:"required,oneof=container-cluster virtual-machine managed-platform"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	WorkspaceDir    string        `mapstructure:"workspace_dir" yaml:"workspace_dir" validate:"required"`
}

// AWSConfig holds container-cluster defaults and credentials.
type AWSConfig struct {
	Region           string `mapstructure:"region" yaml:"region"`
	Registry         string `mapstructure:"registry" yaml:"registry"`
	RegistryUsername string `mapstructure:"registry_username" yaml:"registry_username,omitempty"`
	RegistryPassword string `mapstructure:"registry_password" yaml:"registry_password,omitempty"`
	AccessKeyID      string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey  string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// DigitalOceanConfig holds virtual-machine and managed-platform defaults.
type DigitalOceanConfig struct {
	Token           string `mapstructure:"token" yaml:"token,omitempty"`
	Region          string `mapstructure:"region" yaml:"region"`
	DropletSize     string `mapstructure:"droplet_size" yaml:"droplet_size"`
	DropletImage    string `mapstructure:"droplet_image" yaml:"droplet_image"`
	AppInstanceSlug string `mapstructure:"app_instance_slug" yaml:"app_instance_slug"`
	SSHKeyPath      string `mapstructure:"ssh_key_path" yaml:"ssh_key_path,omitempty"`
}

// DockerConfig configures image builds.
type DockerConfig struct {
	Host     string `mapstructure:"host" yaml:"host,omitempty"`
	Platform string `mapstructure:"platform" yaml:"platform"`
}

// LeaseConfig selects the per-project lock backend.
type LeaseConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend" validate:"oneof=memory redis"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the redis lease backend.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// PolicyConfig locates admission policies.
type PolicyConfig struct {
	Paths []string `mapstructure:"paths" yaml:"paths"`
	Watch bool     `mapstructure:"watch" yaml:"watch"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName   string `mapstructure:"service_name" yaml:"service_name"`
	TraceExporter string `mapstructure:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty"`
}

// VerifyConfig configures post-deploy checks of virtual-machine instances.
type VerifyConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	User           string        `mapstructure:"user" yaml:"user"`
	ReadyTimeout   time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	KnownHostsPath string        `mapstructure:"known_hosts_path" yaml:"known_hosts_path,omitempty"`
	LogPath        string        `mapstructure:"log_path" yaml:"log_path"`
}

// OperatorPrivateKeyPath is the private half of DigitalOcean.SSHKeyPath.
func (c *Config) OperatorPrivateKeyPath() string {
	return strings.TrimSuffix(c.DigitalOcean.SSHKeyPath, ".pub")
}

// DefaultDataDir returns ~/.froyo-deploy, or .froyo-deploy when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".froyo-deploy"
	}
	return filepath.Join(home, ".froyo-deploy")
}

// New returns a viper instance with defaults and env binding set up.
func New(dataDir string) *viper.Viper {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	v := viper.New()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("database.path", filepath.Join(dataDir, "froyo.db"))
	v.SetDefault("source.api_url", "https://api.github.com")
	v.SetDefault("source.token", "")
	v.SetDefault("source.timeout", 2*time.Minute)
	v.SetDefault("engine.binary", "pulumi")
	v.SetDefault("engine.backend_url", "file://"+filepath.Join(dataDir, "state"))
	v.SetDefault("engine.passphrase", "")
	v.SetDefault("deploy.default_provider", string(engine.ProviderManagedPlatform))
	v.SetDefault("deploy.timeout", 30*time.Minute)
	v.SetDefault("deploy.workspace_dir", filepath.Join(dataDir, "workspaces"))
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.registry", "")
	v.SetDefault("aws.registry_username", "AWS")
	v.SetDefault("aws.registry_password", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("digitalocean.token", "")
	v.SetDefault("digitalocean.region", "nyc1")
	v.SetDefault("digitalocean.droplet_size", "s-1vcpu-1gb")
	v.SetDefault("digitalocean.droplet_image", "ubuntu-22-04-x64")
	v.SetDefault("digitalocean.app_instance_slug", "basic-xxs")
	v.SetDefault("digitalocean.ssh_key_path", filepath.Join(dataDir, "id_ed25519.pub"))
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.platform", "linux/amd64")
	v.SetDefault("lease.backend", "memory")
	v.SetDefault("lease.redis.addr", "localhost:6379")
	v.SetDefault("lease.redis.password", "")
	v.SetDefault("lease.redis.db", 0)
	v.SetDefault("lease.redis.ttl", 30*time.Second)
	v.SetDefault("policy.paths", []string{})
	v.SetDefault("policy.watch", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("telemetry.service_name", "froyo-deploy")
	v.SetDefault("telemetry.trace_exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("verify.enabled", false)
	v.SetDefault("verify.user", "root")
	v.SetDefault("verify.ready_timeout", 10*time.Minute)
	v.SetDefault("verify.known_hosts_path", "")
	v.SetDefault("verify.log_path", "/var/log/cloud-init-output.log")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile, or config.yaml in dataDir when cfgFile is empty. A
// missing default file is not an error; a missing explicit file is.
func Load(cfgFile, dataDir string) (*Config, error) {
	v := New(dataDir)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(v.GetString("data_dir"))
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return engine.NewConfigValidationError("invalid configuration", err)
	}
	if c.Lease.Backend == "redis" && c.Lease.Redis.Addr == "" {
		return engine.NewConfigValidationError("invalid configuration",
			errors.New("lease.redis.addr is required for the redis backend"))
	}
	if c.Verify.Enabled && c.Verify.ReadyTimeout <= 0 {
		return engine.NewConfigValidationError("invalid configuration",
			errors.New("verify.ready_timeout must be positive"))
	}
	if c.Telemetry.TraceExporter == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return engine.NewConfigValidationError("invalid configuration",
			errors.New("telemetry.otlp_endpoint is required for the otlp exporter"))
	}
	return nil
}

// TargetDefaults maps provider defaults onto the engine's view. The operator
// public key is read from DigitalOcean.SSHKeyPath when it exists.
func (c *Config) TargetDefaults() (engine.TargetDefaults, error) {
	d := engine.TargetDefaults{
		DefaultProvider:  engine.ProviderKind(c.Deploy.DefaultProvider),
		AWSRegion:        c.AWS.Region,
		Registry:         c.AWS.Registry,
		RegistryUsername: c.AWS.RegistryUsername,
		RegistryPassword: c.AWS.RegistryPassword,
		DORegion:         c.DigitalOcean.Region,
		DropletSize:      c.DigitalOcean.DropletSize,
		DropletImage:     c.DigitalOcean.DropletImage,
		AppInstanceSlug:  c.DigitalOcean.AppInstanceSlug,
	}
	if path := c.DigitalOcean.SSHKeyPath; path != "" {
		key, err := os.ReadFile(path)
		switch {
		case err == nil:
			d.SSHAuthorizedKey = strings.TrimSpace(string(key))
		case !os.IsNotExist(err):
			return d, fmt.Errorf("failed to read operator key: %w", err)
		}
	}
	return d, nil
}

// EngineEnv returns the provider credentials passed to every engine call.
// Empty values are omitted.
func (c *Config) EngineEnv() map[string]string {
	env := map[string]string{
		"AWS_ACCESS_KEY_ID":     c.AWS.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY": c.AWS.SecretAccessKey,
		"AWS_REGION":            c.AWS.Region,
		"DIGITALOCEAN_TOKEN":    c.DigitalOcean.Token,
	}
	for k, v := range env {
		if v == "" {
			delete(env, k)
		}
	}
	return env
}

// Secrets returns every configured credential, for redaction.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{
		c.Source.Token,
		c.Engine.Passphrase,
		c.AWS.RegistryPassword,
		c.AWS.SecretAccessKey,
		c.DigitalOcean.Token,
		c.Lease.Redis.Password,
	} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
