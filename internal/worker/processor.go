package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ChunkDrop/internal/queue"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// Sweeper expires abandoned sessions; upload.Service implements it.
type Sweeper interface {
	ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (upload.SweepResult, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	janitor *Janitor
	sweeper Sweeper
	bucket  string
	logger  *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(janitor *Janitor, sweeper Sweeper, bucket string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{janitor: janitor, sweeper: sweeper, bucket: bucket, logger: logger.With("component", "worker")}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.DeleteOrphanTask, p.handleDeleteOrphan)
	mux.HandleFunc(queue.SweepStaleTask, p.handleSweep)
	mux.HandleFunc(queue.ReconcileTask, p.handleReconcile)
	return mux
}

func (p *Processor) handleDeleteOrphan(ctx context.Context, task *asynq.Task) error {
	orphan, err := queue.DecodeOrphan(task)
	if err != nil {
		return err
	}
	if err := p.janitor.DeleteOrphan(ctx, orphan); err != nil {
		p.logger.Warn("delete orphan failed", "bucket", orphan.Bucket, "object_key", orphan.Key, "error", err)
		return err
	}
	return nil
}

func (p *Processor) handleSweep(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeSweep(task)
	if err != nil {
		return err
	}
	_, err = p.sweeper.ExpireStale(ctx, payload.OlderThan, payload.Limit)
	return err
}

func (p *Processor) handleReconcile(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeReconcile(task)
	if err != nil {
		return err
	}
	_, err = p.janitor.Reconcile(ctx, p.bucket, payload.Prefix, payload.Grace)
	return err
}
