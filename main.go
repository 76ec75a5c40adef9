// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kv4sh0x/capture-cli/cmd"
	"github.com/kv4sh0x/capture-cli/internal/faults"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

// main is the entry point for the capture CLI. It wires signal handling and
// maps the command outcome to the process exit code: 0 for a written
// screenshot, 1 for any fault. An interrupted capture exits 1 because no
// output file was produced.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		osExit(faults.ExitCode(err))
	}
}
