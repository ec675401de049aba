// Package main is the entry point for the mxcpd gateway daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mxcp-io/mxcp-core/cmd/mxcpd/app"
	"github.com/mxcp-io/mxcp-core/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("mxcpd: %v", err)
		os.Exit(1)
	}
}
