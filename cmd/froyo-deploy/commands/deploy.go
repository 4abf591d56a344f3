package commands

import (
	"fmt"
	"time"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <project>",
		Short: "Deploy or redeploy a project",
		Long: `Deploy a project to its target. Running it again on a deployed project
redeploys onto the same stack.

The command blocks until the deploy finishes, fails or hits deploy.timeout.`,
		Example: `  froyo-deploy deploy my-app
  froyo-deploy deploy 01HZX4K9M3Q7 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{orchestrator: true})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(ctx, userID, args[0])
			if err != nil {
				return err
			}

			log.Info().Str("project", p.Name).Str("stack", engine.StackID(p.Name)).Msg("Deploying")
			start := time.Now()
			res, err := a.orch.Deploy(ctx, orchestrator.DeployRequest{ProjectID: p.ID, UserID: userID})
			if err != nil {
				return fmt.Errorf("deploy of %s failed [%s]: %w", p.Name, orDash(engine.CodeOf(err)), err)
			}
			if jsonOutput {
				return printJSON(res)
			}
			success("Deployed %s in %s", cyan(p.Name), time.Since(start).Round(time.Second))
			if url := res.URL(); url != "" {
				fmt.Fprintf(stdout, "  URL: %s\n", green(url))
			}
			return nil
		},
	}
}

func newTeardownCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "teardown <project>",
		Short: "Destroy a project's infrastructure and archive it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("teardown destroys all resources of %s; pass --yes to confirm", args[0])
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{orchestrator: true})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(ctx, userID, args[0])
			if err != nil {
				return err
			}

			res, err := a.orch.Teardown(ctx, orchestrator.TeardownRequest{ProjectID: p.ID, UserID: userID})
			if err != nil {
				return err
			}
			if jsonOutput {
				out := map[string]string{"project_id": res.ProjectID, "stack_id": res.StackID}
				if res.DestroyErr != nil {
					out["destroy_error"] = res.DestroyErr.Error()
				}
				return printJSON(out)
			}
			if res.DestroyErr != nil {
				warning("Stack %s was not fully destroyed: %v", res.StackID, res.DestroyErr)
			}
			success("Archived %s", cyan(p.Name))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the teardown")

	return cmd
}

func newStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status <project>",
		Short: "Show deployment state and recent attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{orchestrator: true})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(ctx, userID, args[0])
			if err != nil {
				return err
			}
			view, err := a.orch.Status(ctx, p.ID, userID, limit)
			if err != nil {
				return err
			}
			view.Project = maskSecrets(view.Project)
			if jsonOutput {
				return printJSON(view)
			}

			fmt.Fprintf(stdout, "%s  %s  %s\n", cyan(p.Name), deploymentStatusColor(p.DeploymentStatus), orDash(p.DeploymentURL))
			if p.LastError != "" {
				fmt.Fprintf(stdout, "last error: %s\n", red(p.LastError))
			}
			if len(view.Attempts) == 0 {
				return nil
			}
			fmt.Fprintln(stdout)

			table := newTable([]string{"Attempt", "Target", "Status", "Started", "Finished", "Error"})
			for _, d := range view.Attempts {
				_ = table.Append([]string{
					d.ID,
					string(d.Provider),
					attemptStatusColor(d.Status),
					formatTime(&d.StartedAt),
					formatTime(d.FinishedAt),
					orDash(d.ErrorCode),
				})
			}
			return table.Render()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of attempts to show")

	return cmd
}
