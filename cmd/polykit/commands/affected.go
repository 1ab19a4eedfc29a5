package commands

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func (c *CLI) newAffectedCmd() *cobra.Command {
	var (
		useGit bool
		base   string
	)
	cmd := &cobra.Command{
		Use:   "affected [files...]",
		Short: "List packages affected by changed files",
		Long: `List the packages owning the given paths plus everything that
transitively depends on them. Pass file paths as arguments, "-" to read
paths from stdin, or --git to diff against a base reference.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}

			var names []string
			switch {
			case useGit:
				names, err = a.AffectedFromGit(cmd.Context(), base)
			case len(args) == 1 && args[0] == "-":
				paths, readErr := readPathsFromStdin()
				if readErr != nil {
					return readErr
				}
				names, err = a.Affected(cmd.Context(), paths)
			default:
				names, err = a.Affected(cmd.Context(), args)
			}
			if err != nil {
				return err
			}

			if c.jsonOut {
				return printJSON(map[string]any{"affected": names})
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useGit, "git", false, "Derive changed files from git diff")
	cmd.Flags().StringVar(&base, "base", "HEAD", "Git base reference for --git")
	return cmd
}

func readPathsFromStdin() ([]string, error) {
	var paths []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, scanner.Err()
}
