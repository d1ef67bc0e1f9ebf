package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/metrics"
	"github.com/dharsanguruparan/ChunkDrop/internal/s3storage"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// ObjectStore is what cleanup needs from the S3 client.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket, prefix string) ([]s3storage.ObjectInfo, error)
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	DeleteObject(ctx context.Context, bucket, key string) error
}

// FileIndex answers which keys file records point at.
type FileIndex interface {
	ReferencesObject(ctx context.Context, bucket, key string) (bool, error)
	ObjectKeys(ctx context.Context, bucket string) (map[string]struct{}, error)
}

// SessionIndex answers which keys in-progress sessions will write.
type SessionIndex interface {
	ActiveObjectKeys(ctx context.Context, bucket string) (map[string]struct{}, error)
}

// Janitor deletes leaked objects. It never removes a key a file record or an
// in-progress session still points at.
type Janitor struct {
	store      ObjectStore
	files      FileIndex
	sessions   SessionIndex
	quarantine string
	logger     *slog.Logger
	now        func() time.Time
}

// NewJanitor builds a Janitor. A non-empty quarantine prefix keeps a copy of
// each orphan below it before deletion.
func NewJanitor(store ObjectStore, files FileIndex, sessions SessionIndex, quarantine string, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:      store,
		files:      files,
		sessions:   sessions,
		quarantine: strings.TrimSuffix(quarantine, "/"),
		logger:     logger.With("component", "janitor"),
		now:        time.Now,
	}
}

// DeleteOrphan removes one reported object unless it is referenced again.
func (j *Janitor) DeleteOrphan(ctx context.Context, o upload.Orphan) error {
	referenced, err := j.files.ReferencesObject(ctx, o.Bucket, o.Key)
	if err != nil {
		return fmt.Errorf("check reference: %w", err)
	}
	if referenced {
		j.logger.Info("orphan is referenced, keeping", "bucket", o.Bucket, "object_key", o.Key)
		return nil
	}
	if err := j.remove(ctx, o.Bucket, o.Key); err != nil {
		return err
	}
	metrics.OrphanDeleted("report")
	j.logger.Info("orphan deleted", "bucket", o.Bucket, "object_key", o.Key, "reason", o.Reason)
	return nil
}

// ReconcileResult counts one reconciliation pass.
type ReconcileResult struct {
	Scanned int
	Deleted int
	Young   int
	Failed  int
}

// Reconcile lists prefix and deletes objects older than grace that neither a
// file record nor an in-progress session references.
func (j *Janitor) Reconcile(ctx context.Context, bucket, prefix string, grace time.Duration) (ReconcileResult, error) {
	var res ReconcileResult
	objects, err := j.store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return res, fmt.Errorf("list objects: %w", err)
	}
	referenced, err := j.files.ObjectKeys(ctx, bucket)
	if err != nil {
		return res, fmt.Errorf("load file keys: %w", err)
	}
	active, err := j.sessions.ActiveObjectKeys(ctx, bucket)
	if err != nil {
		return res, fmt.Errorf("load session keys: %w", err)
	}
	cutoff := j.now().Add(-grace)
	for _, obj := range objects {
		res.Scanned++
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if _, ok := active[obj.Key]; ok {
			continue
		}
		if obj.LastModified.After(cutoff) {
			res.Young++
			continue
		}
		if err := j.remove(ctx, bucket, obj.Key); err != nil {
			j.logger.Warn("reconcile delete failed", "bucket", bucket, "object_key", obj.Key, "error", err)
			res.Failed++
			continue
		}
		metrics.OrphanDeleted("reconcile")
		res.Deleted++
	}
	j.logger.Info("reconciliation finished", "bucket", bucket, "prefix", prefix,
		"scanned", res.Scanned, "deleted", res.Deleted, "young", res.Young, "failed", res.Failed)
	return res, nil
}

func (j *Janitor) remove(ctx context.Context, bucket, key string) error {
	if j.quarantine != "" {
		dst := j.quarantine + "/" + key
		if err := j.store.CopyObject(ctx, bucket, key, bucket, dst); err != nil {
			return fmt.Errorf("quarantine %s: %w", key, err)
		}
	}
	if err := j.store.DeleteObject(ctx, bucket, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
