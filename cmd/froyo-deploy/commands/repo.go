package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/openfroyo/froyodeploy/pkg/source"
	"github.com/spf13/cobra"
)

func newRepoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "repo",
		Aliases: []string{"repos"},
		Short:   "Browse repositories visible to the source token",
	}

	cmd.AddCommand(newRepoListCommand())
	cmd.AddCommand(newRepoShowCommand())

	return cmd
}

func newRepoListCommand() *cobra.Command {
	var page, perPage int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List repositories, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.secrets.SourceToken(cmd.Context(), userID)
			if err != nil {
				return err
			}
			repos, err := a.fetcher.ListRepositories(cmd.Context(), token, page, perPage)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(repos)
			}
			if len(repos) == 0 {
				info("No repositories on page %d.", page)
				return nil
			}

			table := newTable([]string{"Repository", "Default Branch", "Private", "Language", "Updated"})
			for _, r := range repos {
				updated := r.UpdatedAt
				_ = table.Append([]string{
					cyan(r.FullName),
					orDash(r.DefaultBranch),
					strconv.FormatBool(r.Private),
					orDash(r.Language),
					formatTime(&updated),
				})
			}
			return table.Render()
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", source.DefaultPerPage, "repositories per page (max 100)")

	return cmd
}

func newRepoShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <owner/repo>",
		Short:   "Show repository metadata",
		Example: "  froyo-deploy repo show acme/api\n  froyo-deploy repo show https://github.com/acme/api",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, name, err := splitRepository(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			token, err := a.secrets.SourceToken(cmd.Context(), userID)
			if err != nil {
				return err
			}
			r, err := a.fetcher.Repository(cmd.Context(), owner, name, token)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(r)
			}

			updated := r.UpdatedAt
			table := newTable([]string{"Field", "Value"})
			for _, row := range [][]string{
				{"Repository", cyan(r.FullName)},
				{"URL", orDash(r.URL)},
				{"Default Branch", orDash(r.DefaultBranch)},
				{"Private", strconv.FormatBool(r.Private)},
				{"Language", orDash(r.Language)},
				{"Description", orDash(r.Description)},
				{"Updated", formatTime(&updated)},
			} {
				_ = table.Append(row)
			}
			return table.Render()
		},
	}
}

// splitRepository accepts owner/repo or a repository URL.
func splitRepository(arg string) (owner, repo string, err error) {
	if strings.Contains(arg, "://") || strings.HasPrefix(arg, "git@") {
		return engine.ParseRepositoryURL(arg)
	}
	parts := strings.Split(strings.Trim(arg, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/repo, got %q", arg)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
