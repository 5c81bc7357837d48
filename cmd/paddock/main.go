// Command paddock is a terminal client for the TC2000 Fantasy backend. It
// keeps a bearer session per backend, manages teams, pilots and users, and
// follows the live event stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}
