// Package commands implements the CLI for the polykit remote cache server.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polykit/polykit/internal/adapters/logger"
	"github.com/polykit/polykit/internal/build"
	"github.com/polykit/polykit/internal/cacheserver"
	"github.com/polykit/polykit/internal/core/domain"
)

// CLI is the polykit-cache command line interface.
type CLI struct {
	rootCmd *cobra.Command

	addr    string
	dir     string
	maxSize int64
	verbose bool
}

// New creates the CLI.
func New() *CLI {
	c := &CLI{}

	c.rootCmd = &cobra.Command{
		Use:           "polykit-cache",
		Short:         "Shared artifact cache server for polykit",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}

	flags := c.rootCmd.Flags()
	flags.StringVar(&c.addr, "addr", ":8080", "Listen address")
	flags.StringVar(&c.dir, "dir", "artifacts", "Artifact storage directory")
	flags.Int64Var(&c.maxSize, "max-size", domain.DefaultMaxArtifactSize, "Maximum artifact size in bytes")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Verbose logging")

	c.rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the polykit-cache version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(build.Version)
		},
	})

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

func (c *CLI) serve(ctx context.Context) error {
	log := logger.New(c.verbose)

	storage, err := cacheserver.NewStorage(c.dir, c.maxSize)
	if err != nil {
		return err
	}

	server := cacheserver.New(storage, cacheserver.NewMetrics(), log)
	log.Info("cache server listening", "addr", c.addr, "dir", c.dir, "max_size", c.maxSize)
	return server.Serve(ctx, c.addr)
}
