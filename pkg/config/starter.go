package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const starterHeader = `# froyo-deploy configuration
#
# Every key can be overridden by an environment variable: upper-case the key,
# replace dots with underscores and prefix FROYO_, e.g.
#   FROYO_DEPLOY_DEFAULT_PROVIDER=virtual-machine
#
# Keep credentials out of this file and export them instead:
#   FROYO_SOURCE_TOKEN, FROYO_ENGINE_PASSPHRASE, FROYO_AWS_SECRET_ACCESS_KEY,
#   FROYO_AWS_REGISTRY_PASSWORD, FROYO_DIGITALOCEAN_TOKEN

`

// Starter returns the default configuration rooted at dataDir with every
// credential blank.
func Starter(dataDir string) (*Config, error) {
	var cfg Config
	if err := New(dataDir).Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	for _, s := range []*string{
		&cfg.Source.Token,
		&cfg.Engine.Passphrase,
		&cfg.AWS.RegistryPassword,
		&cfg.AWS.AccessKeyID,
		&cfg.AWS.SecretAccessKey,
		&cfg.DigitalOcean.Token,
		&cfg.Lease.Redis.Password,
	} {
		*s = ""
	}
	return &cfg, nil
}

// WriteStarter writes cfg to path with a commented header. An existing file
// is only replaced when force is set.
func WriteStarter(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}

	var buf bytes.Buffer
	buf.WriteString(starterHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
