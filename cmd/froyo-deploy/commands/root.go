package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dataDir    string
	userID     string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo-deploy",
		Short: "Deploy registered repositories to cloud targets",
		Long: `froyo-deploy turns a registered source repository into a running deployment.

Targets:
  - container-cluster: image build and push, then a Fargate service behind a load balancer
  - virtual-machine:   a droplet that clones, builds and runs the app under systemd
  - managed-platform:  an App Platform app (static site or web service)

Every deploy, redeploy and teardown goes through the infrastructure engine, one
stack per project.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.froyo-deploy)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", defaultUser(), "acting user id")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newProjectCommand())
	rootCmd.AddCommand(newRepoCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newTeardownCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newActivityCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newServeCommand())

	return rootCmd
}

func defaultUser() string {
	if u := os.Getenv("FROYO_USER"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
