// Command resound records a short microphone clip and identifies the song
// playing through a recognition endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/resound/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one invocation under a context cancelled by SIGINT or SIGTERM.
// The signal handler is released before the exit code is returned.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Execute(ctx, args, os.Stdout, os.Stderr)
}
