package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// sweepBatch bounds how many stale sessions one sweep resolves.
const sweepBatch = 500

const defaultMaintainEvery = 15 * time.Minute

// maintain runs the sweep and the reconciliation on tickers when no worker
// process is scheduling them.
func (a *App) maintain(ctx context.Context) {
	sweep := time.NewTicker(intervalOf(a.Config.SweepSpec))
	defer sweep.Stop()
	reconcile := time.NewTicker(intervalOf(a.Config.ReconcileSpec))
	defer reconcile.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if _, err := a.Service.ExpireStale(ctx, a.Config.StaleSessionAge, sweepBatch); err != nil {
				a.Logger.Error("stale session sweep failed", "error", err)
			}
		case <-reconcile.C:
			if _, err := a.Janitor.Reconcile(ctx, a.Config.Bucket, upload.KeyPrefix, a.Config.ReconcileGrace); err != nil {
				a.Logger.Error("reconciliation failed", "error", err)
			}
		}
	}
}

// intervalOf reads "@every <duration>" specs. Cron expressions need the asynq
// scheduler; in process they fall back to the default interval.
func intervalOf(spec string) time.Duration {
	if d, ok := strings.CutPrefix(spec, "@every "); ok {
		if every, err := time.ParseDuration(strings.TrimSpace(d)); err == nil && every > 0 {
			return every
		}
	}
	return defaultMaintainEvery
}

// asynqLogger routes asynq's logging through slog.
type asynqLogger struct {
	l *slog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
