package commands

import (
	"github.com/openfroyo/froyodeploy/pkg/api"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve projects, deploys and teardowns over HTTP, plus /healthz and
Prometheus metrics on /metrics. /repositories lists and describes the
repositories the configured source token can see. Callers identify themselves with the
X-User-ID header.

Policy files are hot reloaded when policy.watch is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{orchestrator: true, watchPolicies: true, checkRepositories: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := api.New(api.Config{Listen: addr}, a.projects, a.orch, a.store, a.store, a.tel.Metrics.Handler(), a.logger).
				WithRepositories(a.fetcher, a.secrets)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")

	return cmd
}
