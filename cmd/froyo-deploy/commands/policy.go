package commands

import (
	"fmt"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect admission policies",
		Long: `Admission policies are Rego modules evaluated against the normalized
deployment config before any engine call. Built-in policies are always loaded;
more are read from policy.paths.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			policies := a.policies.ListPolicies()
			if jsonOutput {
				return printJSON(policies)
			}
			table := newTable([]string{"Name", "Severity", "Enabled", "Source", "Description"})
			for _, p := range policies {
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				_ = table.Append([]string{cyan(p.Name), string(p.Severity), fmt.Sprint(p.Enabled), source, p.Description})
			}
			return table.Render()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <project>",
		Short: "Evaluate policies against a project without deploying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(ctx, userID, args[0])
			if err != nil {
				return err
			}
			defaults, err := a.cfg.TargetDefaults()
			if err != nil {
				return err
			}
			cfg, err := engine.NewProjectConfig(p, engine.ConfigOptions{AttemptID: "check", Defaults: defaults})
			if err != nil {
				return err
			}
			res, err := a.policies.Admit(ctx, cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			for _, v := range res.Violations {
				fmt.Fprintf(stdout, "%s %s: %s\n", red("deny"), v.Policy, v.Message)
			}
			for _, v := range res.Warnings {
				warning("%s: %s", v.Policy, v.Message)
			}
			if !res.Allowed {
				return fmt.Errorf("%s is not admitted", p.Name)
			}
			success("%s is admitted", cyan(p.Name))
			return nil
		},
	})

	return cmd
}
