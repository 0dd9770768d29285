package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"consolerelay.dev/cli/internal/interfaces/cli"
)

func main() {
	// The first interrupt cancels the build; the relay then gets one bounded
	// flush before the process exits with the build's status.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
