package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/adapters/lang"
)

func (c *CLI) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List packages with their current versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			graph, _, err := a.LoadGraph(cmd.Context())
			if err != nil {
				return err
			}

			type row struct {
				Name     string  `json:"name"`
				Language string  `json:"language"`
				Public   bool    `json:"public"`
				Version  *string `json:"version"`
			}
			rows := make([]row, 0, graph.Len())
			for _, name := range graph.Names() {
				p, _ := graph.Package(name)
				r := row{Name: p.Name, Language: p.Language.String(), Public: p.Public}
				if version, ok, err := lang.For(p.Language).ReadVersion(p.Dir); err == nil && ok {
					r.Version = &version
				}
				rows = append(rows, r)
			}

			if c.jsonOut {
				return printJSON(rows)
			}
			for _, r := range rows {
				version := "-"
				if r.Version != nil {
					version = *r.Version
				}
				fmt.Printf("%s  %s  %s\n", r.Name, r.Language, version)
			}
			return nil
		},
	}
}
