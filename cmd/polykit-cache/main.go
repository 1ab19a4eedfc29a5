// Package main is the entry point for the polykit cache server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/polykit/polykit/cmd/polykit-cache/commands"
)

func main() {
	// SIGTERM/SIGINT cancel the context; the server drains in-flight
	// requests before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := commands.New()
	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
