package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/openfroyo/froyodeploy/pkg/engine"
)

var (
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

var stdout io.Writer = os.Stdout

func success(format string, a ...any) {
	fmt.Fprintf(stdout, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func info(format string, a ...any) {
	fmt.Fprintf(stdout, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func warning(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(stdout,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

func deploymentStatusColor(s engine.DeploymentStatus) string {
	switch s {
	case engine.DeploymentStatusDeployed:
		return green(string(s))
	case engine.DeploymentStatusDeploying:
		return yellow(string(s))
	case engine.DeploymentStatusFailed:
		return red(string(s))
	}
	return string(s)
}

func attemptStatusColor(s engine.AttemptStatus) string {
	switch s {
	case engine.AttemptStatusSucceeded:
		return green(string(s))
	case engine.AttemptStatusRunning:
		return yellow(string(s))
	case engine.AttemptStatusFailed:
		return red(string(s))
	}
	return string(s)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
