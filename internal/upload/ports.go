package upload

import (
	"context"
	"io"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// ObjectStore is the subset of the S3 client the core drives. s3storage.Storage
// satisfies it; tests use an in-memory fake.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	InitiateMultipart(ctx context.Context, bucket, key, contentType string) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error)
	CompleteMultipart(ctx context.Context, bucket, key, uploadID string) (string, error)
	AbortMultipart(ctx context.Context, bucket, key, uploadID string) error
	DeleteObject(ctx context.Context, bucket, key string) error
	PresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	ObjectURL(bucket, key string) string
}

// SessionStore persists upload sessions. Conditional mutations return
// model.ErrConflict together with the current row when the session is not in
// the state the mutation requires.
type SessionStore interface {
	CreateSession(ctx context.Context, s *model.UploadSession) error
	GetSession(ctx context.Context, uploadID string) (*model.UploadSession, error)
	AddChunk(ctx context.Context, uploadID string, chunk int) (*model.UploadSession, error)
	BeginCompletion(ctx context.Context, uploadID string) (*model.UploadSession, error)
	FinishCompletion(ctx context.Context, uploadID string, status model.SessionStatus, reason string) (*model.UploadSession, error)
	Transition(ctx context.Context, uploadID string, status model.SessionStatus, reason string) (*model.UploadSession, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]*model.UploadSession, error)
}

// FileStore persists file records.
type FileStore interface {
	FindFile(ctx context.Context, ownerEntityID, fileName string) (*model.FileRecord, error)
	InsertFile(ctx context.Context, rec *model.FileRecord) error
	DeleteFile(ctx context.Context, id string) error
	ListFiles(ctx context.Context, ownerEntityID string) ([]*model.FileRecord, error)
}

// EntityChecker answers whether an owning entity exists.
type EntityChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Orphan describes an object left in the store with no record pointing at it.
type Orphan struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// OrphanReporter receives leaked objects for later cleanup.
type OrphanReporter interface {
	ReportOrphan(ctx context.Context, orphan Orphan) error
}

// Observer receives lifecycle counts. metrics.Collector implements it.
type Observer interface {
	SessionFinished(outcome string)
	ChunkStored(bytes int64)
	DirectUpload(outcome string)
	OrphanReported(source string)
}

type nopObserver struct{}

func (nopObserver) SessionFinished(string) {}
func (nopObserver) ChunkStored(int64)      {}
func (nopObserver) DirectUpload(string)    {}
func (nopObserver) OrphanReported(string)  {}
