package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// main wires up signal handling around the cobra command tree, grounded on
// the teacher's main.go single Execute()-error-check pattern
// (cmd/streamy/main.go), generalized with a cancellable context so SIGINT
// mid-run reaches the controller as ctx.Err() (spec.md §4.2, scenario E6)
// and SIGHUP is ignored so a detached terminal doesn't kill a long stage
// (spec.md §6.6).
func main() {
	signal.Ignore(syscall.SIGHUP)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ctx.Err() != nil {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
