// Package commands implements the CLI commands for polykit.
package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/adapters/config"
	"github.com/polykit/polykit/internal/adapters/logger"
	"github.com/polykit/polykit/internal/app"
	"github.com/polykit/polykit/internal/ui/output"
)

// CLI is the polykit command line interface.
type CLI struct {
	rootCmd *cobra.Command

	jsonOut         bool
	packagesDir     string
	parallel        int
	continueOnError bool
	remoteURL       string
	remoteReadOnly  bool
	noRemoteCache   bool
	noCache         bool
	verbose         bool
}

// New creates the CLI with all subcommands registered.
func New() *CLI {
	c := &CLI{}

	c.rootCmd = &cobra.Command{
		Use:           "polykit",
		Short:         "Fast, language-agnostic monorepo orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := c.rootCmd.PersistentFlags()
	flags.BoolVar(&c.jsonOut, "json", false, "Machine-readable JSON output")
	flags.StringVar(&c.packagesDir, "packages-dir", "", "Packages directory (default \"packages\")")
	flags.IntVarP(&c.parallel, "parallel", "j", 0, "Maximum parallel tasks")
	flags.BoolVar(&c.continueOnError, "continue-on-error", false, "Keep running independent tasks after a failure")
	flags.StringVar(&c.remoteURL, "remote-cache-url", "", "Remote cache URL override")
	flags.BoolVar(&c.remoteReadOnly, "remote-cache-readonly", false, "Disable remote cache uploads")
	flags.BoolVar(&c.noRemoteCache, "no-remote-cache", false, "Disable the remote cache")
	flags.BoolVar(&c.noCache, "no-cache", false, "Disable the scan snapshot")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Verbose logging")

	c.rootCmd.AddCommand(
		c.newScanCmd(),
		c.newListCmd(),
		c.newGraphCmd(),
		c.newAffectedCmd(),
		c.newBuildCmd(),
		c.newTestCmd(),
		c.newRunCmd(),
		c.newReleaseCmd(),
		c.newWhyCmd(),
		c.newValidateCmd(),
		c.newVersionCmd(),
	)

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// JSON reports whether --json is set.
func (c *CLI) JSON() bool { return c.jsonOut }

// newApp loads the workspace from the current directory and wires the
// application layer.
func (c *CLI) newApp() (*app.App, error) {
	ws, err := config.LoadWorkspace(".")
	if err != nil {
		return nil, err
	}
	if c.packagesDir != "" {
		ws.PackagesDir = c.packagesDir
	}

	sink := output.New(os.Stdout, os.Stderr)
	if c.jsonOut {
		sink = output.NewQuiet()
	}

	return app.New(ws, logger.New(c.verbose), sink, app.Options{
		UseScanCache:   !c.noCache,
		RemoteURL:      c.remoteURL,
		RemoteReadOnly: c.remoteReadOnly,
		NoRemote:       c.noRemoteCache,
	}), nil
}
