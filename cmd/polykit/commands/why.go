package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (c *CLI) newWhyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "why <package>",
		Short: "Show direct dependencies and dependents of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			result, err := a.Why(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if c.jsonOut {
				return printJSON(result)
			}
			fmt.Printf("%s\n", result.Package)
			fmt.Printf("  depends on:   %s\n", orNone(result.Deps))
			fmt.Printf("  depended by:  %s\n", orNone(result.Dependents))
			return nil
		},
	}
}

func orNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
