package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nixmate/internal/nixmate"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			fmt.Fprintf(os.Stderr, "\nReceived %v, cancelling...\n", sig)
			cancel()

			// Give the rebuild a moment to wind down; a second signal
			// forces an immediate exit.
			select {
			case <-sigs:
				fmt.Fprintln(os.Stderr, "Second interrupt, forcing exit.")
				os.Exit(130)
			case <-time.After(30 * time.Second):
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	os.Exit(nixmate.RunCLI(ctx, os.Args[1:]))
}
