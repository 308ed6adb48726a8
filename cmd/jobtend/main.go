// Command jobtend is the command-line dispatcher for the job supervisor.
// Each invocation maps to exactly one supervisor operation, so a caller
// with no persistent connection to the machine can drive jobs through
// discrete commands over a transient remote session.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		os.Interrupt,
	)
	defer cancel()

	if err := newCLI().rootCmd().ExecuteContext(ctx); err != nil {
		return err
	}

	return nil
}
