package upload

import (
	"context"
	"io"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// DirectRequest is a one-shot upload below the multipart threshold.
type DirectRequest struct {
	OwnerEntityID string
	FileName      string
	ContentType   string
	Size          int64
	Body          io.Reader
	UserID        string
}

// UploadDirect writes a small file in one call. The overwrite protocol runs
// before the write, so a failed put leaves no file under that name.
func (s *Service) UploadDirect(ctx context.Context, req DirectRequest) (rec *model.FileRecord, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.observer.DirectUpload(outcome)
	}()

	if req.UserID == "" {
		return nil, &Error{Kind: KindUnauthorized, Reason: "missing caller identity"}
	}
	if req.OwnerEntityID == "" {
		return nil, invalid("", "owner entity id is required")
	}
	name, ok := CleanFileName(req.FileName)
	if !ok {
		return nil, invalid(req.OwnerEntityID, "invalid file name %q", req.FileName)
	}
	if req.Size <= 0 {
		return nil, invalid(name, "file is empty")
	}
	if req.Size >= s.opts.MultipartThreshold {
		return nil, invalid(name, "size %d reaches the multipart threshold %d; use a chunked upload",
			req.Size, s.opts.MultipartThreshold)
	}
	if req.Body == nil {
		return nil, invalid(name, "missing body")
	}
	if err := s.checkEntity(ctx, req.OwnerEntityID); err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx, name); err != nil {
		return nil, err
	}

	contentType := ContentTypeFor(name, req.ContentType)
	key := ObjectKey(req.OwnerEntityID, name, s.newToken())
	if err := s.supersede(ctx, req.OwnerEntityID, name, key); err != nil {
		return nil, err
	}
	if _, err := s.store.PutObject(ctx, s.opts.Bucket, key, req.Body, req.Size, contentType); err != nil {
		s.logger.Warn("direct upload write failed", "owner_entity_id", req.OwnerEntityID, "file_name", name, "error", err)
		return nil, storeError(name, "put object", err)
	}

	rec = s.newRecord(req.OwnerEntityID, name, contentType, req.UserID, key, req.Size)
	if err := s.materialize(ctx, rec); err != nil {
		s.leaveUnreferenced("direct", rec.BucketName, key, "file record insert failed")
		return nil, err
	}
	s.logger.Info("direct upload stored", "file_id", rec.ID, "owner_entity_id", rec.OwnerEntityID,
		"file_name", name, "object_key", key, "size", rec.FileSize)
	return rec, nil
}
