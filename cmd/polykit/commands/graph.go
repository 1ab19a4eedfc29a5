package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print packages in topological order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			graph, err := a.Graph(cmd.Context())
			if err != nil {
				return err
			}

			order := graph.TopologicalOrder()
			if c.jsonOut {
				edges := make(map[string][]string, graph.Len())
				for _, name := range graph.Names() {
					deps, _ := graph.Dependencies(name)
					edges[name] = deps
				}
				return printJSON(map[string]any{
					"order": order,
					"edges": edges,
				})
			}
			for _, name := range order {
				fmt.Println(name)
			}
			return nil
		},
	}
}
