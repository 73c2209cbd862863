package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andyan77/diyu-agent-sub001/internal/orchestrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			// Flag-parse errors fail before the orchestrator assigns a code.
			exitCode = orchestrator.ExitInternalError
		}
	}
	os.Exit(exitCode)
}
