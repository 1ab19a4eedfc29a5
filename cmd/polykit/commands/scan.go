package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/core/domain"
)

// scanPackageView is the JSON shape of one scanned package.
type scanPackageView struct {
	Name     string   `json:"name"`
	Language string   `json:"language"`
	Public   bool     `json:"public"`
	Path     string   `json:"path"`
	Deps     []string `json:"deps"`
	Tasks    []string `json:"tasks"`
}

func (c *CLI) newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Discover packages in the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			result, err := a.Scan(cmd.Context())
			if err != nil {
				return err
			}

			if c.jsonOut {
				views := make([]scanPackageView, 0, len(result.Packages))
				for _, p := range result.Packages {
					views = append(views, packageView(p))
				}
				return printJSON(map[string]any{
					"packages":    views,
					"diagnostics": result.Diagnostics,
				})
			}

			for _, p := range result.Packages {
				visibility := "private"
				if p.Public {
					visibility = "public"
				}
				fmt.Printf("%s  %s  %s  tasks: %s\n",
					p.Name, p.Language, visibility, strings.Join(p.TaskNames(), ", "))
			}
			for _, diag := range result.Diagnostics {
				fmt.Printf("warning: %s\n", diag.String())
			}
			fmt.Printf("\n%d packages (%d from cache)\n", len(result.Packages), result.Reused)
			return nil
		},
	}
}

func packageView(p *domain.Package) scanPackageView {
	return scanPackageView{
		Name:     p.Name,
		Language: p.Language.String(),
		Public:   p.Public,
		Path:     p.Dir,
		Deps:     p.Deps,
		Tasks:    p.TaskNames(),
	}
}
