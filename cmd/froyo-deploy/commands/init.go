package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/config"
	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"
)

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory",
		Long: `Initialize a data directory with a database, a starter configuration and
the operator SSH key registered on virtual-machine targets.

Existing keys are kept. An existing config file is only replaced with --force.`,
		Example: `  # Initialize ~/.froyo-deploy
  froyo-deploy init

  # Initialize a custom location
  froyo-deploy init --data-dir /var/lib/froyo-deploy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			dir := dataDir
			if dir == "" {
				dir = config.DefaultDataDir()
			}
			log.Info().Str("data_dir", dir).Msg("Initializing data directory")

			cfg, err := config.Starter(dir)
			if err != nil {
				return err
			}

			dirs := []string{
				dir,
				cfg.Deploy.WorkspaceDir,
				strings.TrimPrefix(cfg.Engine.BackendURL, "file://"),
				filepath.Join(dir, "policies"),
			}
			for _, d := range dirs {
				if err := os.MkdirAll(d, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", d, err)
				}
				success("Created directory: %s", d)
			}

			store, err := stores.Open(ctx, stores.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close database: %w", err)
			}
			success("Initialized database: %s", cfg.Database.Path)

			cfgFile := configPath
			if cfgFile == "" {
				cfgFile = filepath.Join(dir, config.FileName)
			}
			if err := config.WriteStarter(cfgFile, cfg, force); err != nil {
				return err
			}
			success("Created config file: %s", cfgFile)

			created, err := ensureOperatorKey(strings.TrimSuffix(cfg.DigitalOcean.SSHKeyPath, ".pub"))
			if err != nil {
				return err
			}
			if created {
				success("Generated SSH keypair: %s", cfg.DigitalOcean.SSHKeyPath)
			} else {
				success("SSH keypair already exists: %s", cfg.DigitalOcean.SSHKeyPath)
			}

			fmt.Fprintf(stdout, "\nNext steps:\n")
			fmt.Fprintf(stdout, "  1. Export credentials:\n")
			fmt.Fprintf(stdout, "     export FROYO_SOURCE_TOKEN=... FROYO_ENGINE_PASSPHRASE=...\n\n")
			fmt.Fprintf(stdout, "  2. Register a project:\n")
			fmt.Fprintf(stdout, "     froyo-deploy project create my-app --repo https://github.com/acme/my-app\n\n")
			fmt.Fprintf(stdout, "  3. Deploy it:\n")
			fmt.Fprintf(stdout, "     froyo-deploy deploy my-app\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

// ensureOperatorKey writes an ed25519 keypair at keyPath and keyPath.pub
// unless the private key already exists.
func ensureOperatorKey(keyPath string) (bool, error) {
	if _, err := os.Stat(keyPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat key: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("failed to generate keypair: %w", err)
	}

	block, err := sshpkg.MarshalPrivateKey(privKey, "froyo-deploy operator")
	if err != nil {
		return false, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPub, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPub), 0o644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}
