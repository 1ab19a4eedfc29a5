package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/core/domain"
)

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check manifests against the workspace invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			diags, err := a.Validate(cmd.Context())
			if err != nil {
				return err
			}

			if c.jsonOut {
				if err := printJSON(map[string]any{
					"valid":       len(diags) == 0,
					"diagnostics": diags,
				}); err != nil {
					return err
				}
			} else if len(diags) == 0 {
				fmt.Println("workspace is valid")
			} else {
				for _, d := range diags {
					fmt.Println(d.String())
				}
			}

			if len(diags) > 0 {
				return &domain.ConfigError{Message: fmt.Sprintf("%d validation diagnostics", len(diags))}
			}
			return nil
		},
	}
}
