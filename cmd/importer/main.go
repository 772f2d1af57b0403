// Command importer previews, runs and migrates tenant bulk imports from JSON documents.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
