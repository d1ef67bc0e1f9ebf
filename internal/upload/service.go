// Package upload implements the resumable chunked upload coordinator, the
// direct upload path, and the file record materializer that both share.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Options carries the size policy and destination bucket.
type Options struct {
	Bucket             string
	MultipartThreshold int64
	DefaultChunkSize   int64
	MinChunkSize       int64
	MaxChunkSize       int64
	PresignTTL         time.Duration
}

// Deps groups the collaborators. Orphans, Observer and Logger are optional.
type Deps struct {
	Store    ObjectStore
	Sessions SessionStore
	Files    FileStore
	Entities EntityChecker
	Orphans  OrphanReporter
	Observer Observer
	Logger   *slog.Logger
}

// Service is safe for concurrent use; all shared state lives in the stores.
type Service struct {
	store    ObjectStore
	sessions SessionStore
	files    FileStore
	entities EntityChecker
	orphans  OrphanReporter
	observer Observer
	logger   *slog.Logger
	opts     Options

	now      func() time.Time
	newToken func() string
}

// New validates deps and opts and builds a Service.
func New(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Sessions == nil || deps.Files == nil || deps.Entities == nil {
		return nil, errors.New("upload: store, sessions, files and entities are required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("upload: bucket is required")
	}
	if opts.MultipartThreshold <= 0 {
		return nil, fmt.Errorf("upload: multipart threshold must be positive, got %d", opts.MultipartThreshold)
	}
	if opts.MinChunkSize <= 0 || opts.MaxChunkSize < opts.MinChunkSize {
		return nil, fmt.Errorf("upload: invalid chunk bounds [%d, %d]", opts.MinChunkSize, opts.MaxChunkSize)
	}
	if opts.DefaultChunkSize < opts.MinChunkSize || opts.DefaultChunkSize > opts.MaxChunkSize {
		return nil, fmt.Errorf("upload: default chunk size %d outside bounds", opts.DefaultChunkSize)
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	s := &Service{
		store:    deps.Store,
		sessions: deps.Sessions,
		files:    deps.Files,
		entities: deps.Entities,
		orphans:  deps.Orphans,
		observer: deps.Observer,
		logger:   deps.Logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "upload")
	return s, nil
}

// Options returns the effective size policy.
func (s *Service) Options() Options { return s.opts }

func (s *Service) checkEntity(ctx context.Context, ownerEntityID string) error {
	ok, err := s.entities.Exists(ctx, ownerEntityID)
	if err != nil {
		return metadataError(ownerEntityID, "entity lookup", err)
	}
	if !ok {
		return &Error{Kind: KindNotFound, ID: ownerEntityID, Reason: "entity not found"}
	}
	return nil
}

func (s *Service) ensureBucket(ctx context.Context, id string) error {
	if err := s.store.EnsureBucket(ctx, s.opts.Bucket); err != nil {
		return storeError(id, "ensure bucket", err)
	}
	return nil
}

// leaveUnreferenced logs an object that was written but never recorded. It is
// not queued for deletion; reconciliation removes it after its grace period.
func (s *Service) leaveUnreferenced(source, bucket, key, reason string) {
	s.logger.Warn("unreferenced object left for reconciliation",
		"source", source, "bucket", bucket, "object_key", key, "reason", reason)
	s.observer.OrphanReported(source)
}

// reportOrphan logs a leaked object and forwards it to the reporter. The
// request context may already be cancelled, so the report detaches from it.
func (s *Service) reportOrphan(ctx context.Context, source string, orphan Orphan) {
	s.logger.Warn("orphaned object",
		"source", source, "bucket", orphan.Bucket, "object_key", orphan.Key, "reason", orphan.Reason)
	s.observer.OrphanReported(source)
	if s.orphans == nil {
		return
	}
	if err := s.orphans.ReportOrphan(context.WithoutCancel(ctx), orphan); err != nil {
		s.logger.Error("report orphan failed", "bucket", orphan.Bucket, "object_key", orphan.Key, "error", err)
	}
}
