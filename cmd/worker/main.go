// Command worker consumes orphan cleanup tasks and schedules the stale
// session sweep and the store reconciliation.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dharsanguruparan/ChunkDrop/internal/app"
	"github.com/dharsanguruparan/ChunkDrop/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("init", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.RunWorker(ctx); err != nil {
		logger.Error("worker stopped", "error", err)
		a.Close()
		os.Exit(1)
	}
}
