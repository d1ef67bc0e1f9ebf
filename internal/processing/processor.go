// Package processing runs orphan cleanup in-process when no Redis is
// configured. Goroutines + a buffered channel form the worker pool.
package processing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// Handler deletes one orphan; worker.Janitor.DeleteOrphan fits.
type Handler func(ctx context.Context, o upload.Orphan) error

// Processor consumes orphans and retries each with exponential backoff.
type Processor struct {
	handle     Handler
	queue      chan upload.Orphan
	workers    int
	maxTries   uint64
	logger     *slog.Logger
	wg         sync.WaitGroup
	newBackOff func() backoff.BackOff
}

// New builds a Processor with queue capacity tied to worker count.
func New(handle Handler, workers int, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		handle:   handle,
		queue:    make(chan upload.Orphan, workers*16),
		workers:  workers,
		maxTries: 5,
		logger:   logger.With("component", "orphan-pool"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 5 * time.Minute
			return b
		},
	}
}

// Start launches worker goroutines that exit when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() { p.wg.Wait() }

// ReportOrphan queues o. A full queue drops the report; the reconciliation
// pass picks the object up later.
func (p *Processor) ReportOrphan(_ context.Context, o upload.Orphan) error {
	select {
	case p.queue <- o:
	default:
		p.logger.Warn("orphan queue full, dropping report", "bucket", o.Bucket, "object_key", o.Key)
	}
	return nil
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-p.queue:
			p.process(ctx, o)
		}
	}
}

func (p *Processor) process(ctx context.Context, o upload.Orphan) {
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.maxTries), ctx)
	err := backoff.RetryNotify(func() error {
		return p.handle(ctx, o)
	}, b, func(err error, wait time.Duration) {
		p.logger.Debug("orphan cleanup retry", "object_key", o.Key, "wait", wait, "error", err)
	})
	if err != nil {
		p.logger.Error("orphan cleanup gave up", "bucket", o.Bucket, "object_key", o.Key, "error", err)
	}
}
