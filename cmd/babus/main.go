// Package main provides babus, a CLI for the shared-memory pub/sub bus.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/steplee/babus/internal/cli"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, sigCh)

	os.Exit(exitCode)
}
