package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/stores"
	"github.com/spf13/cobra"
)

func newActivityCommand() *cobra.Command {
	var (
		project string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log",
		Example: `  froyo-deploy activity
  froyo-deploy activity --project my-app -n 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			filter := stores.ActivityFilter{UserID: userID, Limit: limit}
			if project != "" {
				p, err := a.projects.Resolve(ctx, userID, project)
				if err != nil {
					return err
				}
				filter.ProjectID = p.ID
			}

			acts, err := a.store.ListActivities(ctx, filter)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(acts)
			}
			if len(acts) == 0 {
				info("No activity yet.")
				return nil
			}

			table := newTable([]string{"Time", "Action", "Project", "Details"})
			for _, act := range acts {
				_ = table.Append([]string{
					formatTime(&act.CreatedAt),
					string(act.Action),
					orDash(act.ProjectID),
					formatMetadata(act.Metadata),
				})
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "only show this project")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")

	return cmd
}

func formatMetadata(md map[string]interface{}) string {
	if len(md) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, md[k]))
	}
	return strings.Join(parts, " ")
}
