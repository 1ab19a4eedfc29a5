// Package main is the entry point for the polykit CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/polykit/polykit/cmd/polykit/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := commands.New()
	if err := cli.Execute(ctx); err != nil {
		commands.RenderError(err, cli.JSON())
		os.Exit(commands.ExitCode(err))
	}
}
