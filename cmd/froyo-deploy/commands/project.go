package commands

import (
	"fmt"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/spf13/cobra"
)

func newProjectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects"},
		Short:   "Register and inspect projects",
	}

	cmd.AddCommand(newProjectCreateCommand())
	cmd.AddCommand(newProjectListCommand())
	cmd.AddCommand(newProjectShowCommand())
	cmd.AddCommand(newProjectEnvCommand())

	return cmd
}

func newProjectCreateCommand() *cobra.Command {
	var (
		p       engine.Project
		ptype   string
		target  string
		envs    []string
		secrets []string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a repository as a project",
		Example: `  # Static site on the managed platform
  froyo-deploy project create docs --repo https://github.com/acme/docs --type static-site \
    --build "npm run build" --output-dir dist

  # Web service on a virtual machine
  froyo-deploy project create api --repo https://github.com/acme/api --target virtual-machine \
    --start "npm start" --port 3000 --env MODE=prod --secret API_KEY=s3cr3t`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.Name = args[0]
			p.ProjectType = engine.ProjectType(ptype)
			p.Settings.Provider = engine.ProviderKind(target)

			vars, err := parseEnvPairs(envs, false)
			if err != nil {
				return err
			}
			secretVars, err := parseEnvPairs(secrets, true)
			if err != nil {
				return err
			}
			p.EnvVars = append(vars, secretVars...)

			a, err := openApp(cmd.Context(), appOptions{checkRepositories: !offline})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.projects.Create(cmd.Context(), userID, &p); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(&p)
			}
			success("Registered project %s (%s)", cyan(p.Name), p.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.RepositoryURL, "repo", "", "repository URL")
	f.StringVar(&p.Branch, "branch", engine.DefaultBranch, "branch to deploy")
	f.StringVar(&p.Description, "description", "", "free text description")
	f.StringVar(&ptype, "type", string(engine.ProjectTypeWebService), "project type (static-site, web-service)")
	f.StringVar(&p.BuildCommand, "build", "", "build command")
	f.StringVar(&p.StartCommand, "start", "", "start command")
	f.StringVar(&target, "target", "", "deployment target (container-cluster, virtual-machine, managed-platform)")
	f.StringVar(&p.Settings.InstanceType, "instance-type", "", "VM size or platform instance slug")
	f.IntVar(&p.Settings.MinInstances, "min-instances", 0, "minimum instance count")
	f.IntVar(&p.Settings.MaxInstances, "max-instances", 0, "maximum instance count")
	f.IntVar(&p.Settings.Port, "port", 0, "port the app listens on")
	f.StringVar(&p.Settings.HealthCheckPath, "health-path", "", "health check path")
	f.IntVar(&p.Settings.Memory, "memory", 0, "container memory in MiB")
	f.IntVar(&p.Settings.CPU, "cpu", 0, "container CPU units")
	f.StringVar(&p.Settings.Region, "region", "", "target region")
	f.StringVar(&p.Settings.Runtime, "runtime", "", "runtime (node, python, ...)")
	f.StringVar(&p.Settings.RuntimeVersion, "runtime-version", "", "runtime version")
	f.StringVar(&p.Settings.RootDir, "root-dir", "", "app directory inside the repository")
	f.StringVar(&p.Settings.OutputDir, "output-dir", "", "static build output directory")
	f.StringArrayVar(&envs, "env", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringArrayVar(&secrets, "secret", nil, "secret environment variable KEY=VALUE (repeatable)")
	f.BoolVar(&offline, "skip-repo-check", false, "register without confirming the repository and branch exist")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func newProjectListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List your projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.projects.List(cmd.Context(), userID, all)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(projects)
			}
			if len(projects) == 0 {
				info("No projects. Use 'froyo-deploy project create' to register one.")
				return nil
			}

			table := newTable([]string{"Name", "Type", "Target", "Status", "URL", "Last Deployed"})
			for _, p := range projects {
				_ = table.Append([]string{
					cyan(p.Name),
					string(p.ProjectType),
					orDash(string(p.Settings.Provider)),
					deploymentStatusColor(p.DeploymentStatus),
					orDash(p.DeploymentURL),
					formatTime(p.LastDeployedAt),
				})
			}
			return table.Render()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include archived projects")

	return cmd
}

func newProjectShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			masked := maskSecrets(p)
			if jsonOutput {
				return printJSON(masked)
			}

			table := newTable([]string{"Field", "Value"})
			rows := [][]string{
				{"ID", p.ID},
				{"Name", cyan(p.Name)},
				{"Repository", p.RepositoryURL + "@" + p.Branch},
				{"Type", string(p.ProjectType)},
				{"Target", orDash(string(p.Settings.Provider))},
				{"Stack", engine.StackID(p.Name)},
				{"Status", string(p.Status)},
				{"Deployment", deploymentStatusColor(p.DeploymentStatus)},
				{"URL", orDash(p.DeploymentURL)},
				{"Last Deployed", formatTime(p.LastDeployedAt)},
				{"Last Error", orDash(p.LastError)},
			}
			for _, v := range masked.EnvVars {
				rows = append(rows, []string{"env " + v.Key, v.Value})
			}
			for _, r := range rows {
				_ = table.Append(r)
			}
			return table.Render()
		},
	}
}

func newProjectEnvCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage project environment variables",
	}

	var secret bool
	set := &cobra.Command{
		Use:   "set <project> KEY=VALUE",
		Short: "Add or replace an environment variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, err := parseEnvPairs(args[1:], secret)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			if err := a.projects.SetEnvVar(cmd.Context(), userID, p.ID, vars[0]); err != nil {
				return err
			}
			success("Set %s on %s; redeploy to apply", vars[0].Key, cyan(p.Name))
			return nil
		},
	}
	set.Flags().BoolVar(&secret, "secret", false, "store the value as a secret")

	unset := &cobra.Command{
		Use:   "unset <project> KEY",
		Short: "Remove an environment variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.projects.Resolve(cmd.Context(), userID, args[0])
			if err != nil {
				return err
			}
			if err := a.projects.DeleteEnvVar(cmd.Context(), userID, p.ID, args[1]); err != nil {
				return err
			}
			success("Removed %s from %s; redeploy to apply", args[1], cyan(p.Name))
			return nil
		},
	}

	cmd.AddCommand(set, unset)
	return cmd
}

func parseEnvPairs(pairs []string, secret bool) ([]engine.EnvVar, error) {
	out := make([]engine.EnvVar, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", pair)
		}
		out = append(out, engine.EnvVar{Key: key, Value: value, IsSecret: secret})
	}
	return out, nil
}

func maskSecrets(p *engine.Project) *engine.Project {
	cp := *p
	cp.EnvVars = make([]engine.EnvVar, len(p.EnvVars))
	for i, v := range p.EnvVars {
		if v.IsSecret {
			v.Value = "********"
		}
		cp.EnvVars[i] = v
	}
	return &cp
}
