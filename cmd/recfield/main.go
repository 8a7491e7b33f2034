// Command recfield compiles and validates record type specs, inspects
// their dependency graph, creates storage tables and runs conformance
// scenarios.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/roach88/recfield/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
