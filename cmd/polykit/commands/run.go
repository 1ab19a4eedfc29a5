package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/app"
	"github.com/polykit/polykit/internal/engine/scheduler"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [packages...]",
		Short: "Run the build task across packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTask(cmd, "build", args)
		},
	}
}

func (c *CLI) newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [packages...]",
		Short: "Run the test task across packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTask(cmd, "test", args)
		},
	}
}

func (c *CLI) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task> [packages...]",
		Short: "Run an arbitrary task across packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTask(cmd, args[0], args[1:])
		},
	}
}

// runTask executes the task and renders the run summary. A failed vertex
// yields exit code 1 via errTasksFailed.
func (c *CLI) runTask(cmd *cobra.Command, task string, selection []string) error {
	a, err := c.newApp()
	if err != nil {
		return err
	}

	report, err := a.RunTask(cmd.Context(), app.RunOptions{
		TaskName:        task,
		Selection:       selection,
		Parallelism:     c.parallel,
		ContinueOnError: c.continueOnError,
	})
	if err != nil {
		return err
	}

	if c.jsonOut {
		if err := printJSON(map[string]any{
			"task":           task,
			"results":        report.Results,
			"cache_hit_rate": report.Metrics.CacheHitRate(),
			"duration":       report.Metrics.TotalDuration.Seconds(),
			"failed":         report.Failed,
		}); err != nil {
			return err
		}
	} else {
		printSummary(report)
	}

	if report.Failed {
		return errTasksFailed
	}
	return nil
}

func printSummary(report *scheduler.RunReport) {
	fmt.Println()
	for _, r := range report.Results {
		switch r.Status {
		case scheduler.StatusFailed:
			fmt.Printf("  %s:%s  %s (exit %d)\n", r.Package, r.Task, r.Status, r.ExitCode)
		default:
			fmt.Printf("  %s:%s  %s\n", r.Package, r.Task, r.Status)
		}
	}
	m := report.Metrics
	fmt.Printf("\n%d done, %d cached, %d failed, %d skipped in %.2fs\n",
		m.Done, m.Cached, m.Failed, m.Skipped, m.TotalDuration.Seconds())
}
