package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

const (
	// DeleteOrphanTask removes an object that no file record points at.
	DeleteOrphanTask = "object:delete-orphan"
	// SweepStaleTask expires abandoned upload sessions.
	SweepStaleTask = "sessions:sweep-stale"
	// ReconcileTask compares the store listing with file records.
	ReconcileTask = "objects:reconcile"
)

// orphanDelay gives a transiently failing store time to recover before the
// first cleanup attempt.
const orphanDelay = 30 * time.Second

// SweepPayload parameterizes a stale session sweep.
type SweepPayload struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// ReconcilePayload parameterizes a reconciliation pass.
type ReconcilePayload struct {
	Prefix string        `json:"prefix"`
	Grace  time.Duration `json:"grace"`
}

// NewDeleteOrphanTask builds the task for one leaked object.
func NewDeleteOrphanTask(o upload.Orphan) (*asynq.Task, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal orphan payload: %w", err)
	}
	return asynq.NewTask(DeleteOrphanTask, data, asynq.MaxRetry(10), asynq.ProcessIn(orphanDelay)), nil
}

// NewSweepTask builds a sweep task. Unique keeps scheduler ticks from piling
// up while a sweep is still queued.
func NewSweepTask(p SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal sweep payload: %w", err)
	}
	return asynq.NewTask(SweepStaleTask, data, asynq.MaxRetry(1), asynq.Unique(5*time.Minute)), nil
}

// NewReconcileTask builds a reconciliation task.
func NewReconcileTask(p ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal reconcile payload: %w", err)
	}
	return asynq.NewTask(ReconcileTask, data, asynq.MaxRetry(1), asynq.Unique(time.Hour)), nil
}

// Reporter forwards orphans to the worker through Redis.
type Reporter struct {
	client *asynq.Client
}

// NewReporter wraps an asynq client.
func NewReporter(client *asynq.Client) *Reporter {
	return &Reporter{client: client}
}

// ReportOrphan enqueues a delete-orphan task.
func (r *Reporter) ReportOrphan(ctx context.Context, o upload.Orphan) error {
	task, err := NewDeleteOrphanTask(o)
	if err != nil {
		return err
	}
	if _, err := r.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue delete orphan: %w", err)
	}
	return nil
}

// DecodeOrphan reads a delete-orphan payload.
func DecodeOrphan(task *asynq.Task) (upload.Orphan, error) {
	var o upload.Orphan
	if err := json.Unmarshal(task.Payload(), &o); err != nil {
		return o, fmt.Errorf("decode orphan payload: %w", err)
	}
	if o.Bucket == "" || o.Key == "" {
		return o, fmt.Errorf("orphan payload missing bucket or key: %w", asynq.SkipRetry)
	}
	return o, nil
}

// DecodeSweep reads a sweep payload.
func DecodeSweep(task *asynq.Task) (SweepPayload, error) {
	var p SweepPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode sweep payload: %w", err)
	}
	return p, nil
}

// DecodeReconcile reads a reconcile payload.
func DecodeReconcile(task *asynq.Task) (ReconcilePayload, error) {
	var p ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode reconcile payload: %w", err)
	}
	return p, nil
}
