package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/core/domain"
	"github.com/polykit/polykit/internal/engine/release"
)

func (c *CLI) newReleaseCmd() *cobra.Command {
	var (
		bumpFlag string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "release <package>",
		Short: "Bump a package version and patch-bump its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bump, ok := release.ParseBump(bumpFlag)
			if !ok {
				return &domain.ConfigError{Message: "invalid --bump value " + bumpFlag + ": expected major, minor, or patch"}
			}

			a, err := c.newApp()
			if err != nil {
				return err
			}
			plan, applied, err := a.Release(cmd.Context(), args[0], bump, dryRun)
			if err != nil {
				if len(applied) > 0 {
					fmt.Printf("applied before failure: %v\n", applied)
				}
				return err
			}

			if c.jsonOut {
				return printJSON(map[string]any{
					"plan":    plan.Entries,
					"applied": applied,
					"dry_run": dryRun,
				})
			}
			for _, entry := range plan.Entries {
				fmt.Println(entry.String())
			}
			if dryRun {
				fmt.Println("\ndry run, no files were changed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bumpFlag, "bump", "patch", "Version bump: major, minor, or patch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without applying it")
	_ = cmd.MarkFlagRequired("bump")
	return cmd
}
