package upload

import (
	"context"
	"errors"
	"io"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// InitiateRequest opens a chunked upload. ChunkSize zero selects the default.
type InitiateRequest struct {
	OwnerEntityID string
	FileName      string
	ContentType   string
	TotalSize     int64
	ChunkSize     int64
	UserID        string
}

// ChunkRequest carries one chunk. Size must be the exact byte count of Body.
type ChunkRequest struct {
	UploadID    string
	ChunkNumber int
	Size        int64
	Body        io.Reader
	UserID      string
}

// Initiate opens a multipart upload at the store and records the session.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*model.UploadSession, error) {
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
	if req.TotalSize <= 0 {
		return nil, invalid(name, "total size must be positive")
	}
	if req.TotalSize < s.opts.MultipartThreshold {
		return nil, invalid(name, "size %d is below the multipart threshold %d; use the direct upload path",
			req.TotalSize, s.opts.MultipartThreshold)
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.opts.DefaultChunkSize
	}
	if chunkSize < s.opts.MinChunkSize || chunkSize > s.opts.MaxChunkSize {
		return nil, invalid(name, "chunk size %d outside [%d, %d]", chunkSize, s.opts.MinChunkSize, s.opts.MaxChunkSize)
	}
	totalChunks := model.TotalChunksFor(req.TotalSize, chunkSize)
	if totalChunks > maxParts {
		return nil, invalid(name, "%d chunks exceeds the %d part limit; raise the chunk size", totalChunks, maxParts)
	}
	if err := s.checkEntity(ctx, req.OwnerEntityID); err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx, name); err != nil {
		return nil, err
	}

	contentType := ContentTypeFor(name, req.ContentType)
	key := ObjectKey(req.OwnerEntityID, name, s.newToken())
	uploadID, err := s.store.InitiateMultipart(ctx, s.opts.Bucket, key, contentType)
	if err != nil {
		return nil, storeError(name, "initiate multipart", err)
	}

	session := &model.UploadSession{
		UploadID:       uploadID,
		OwnerEntityID:  req.OwnerEntityID,
		OwnerUserID:    req.UserID,
		FileName:       name,
		ContentType:    contentType,
		TotalSize:      req.TotalSize,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		BucketName:     s.opts.Bucket,
		ObjectKey:      key,
		UploadedChunks: []int{},
		Status:         model.StatusInProgress,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		if abortErr := s.store.AbortMultipart(context.WithoutCancel(ctx), s.opts.Bucket, key, uploadID); abortErr != nil {
			s.logger.Error("abort after failed session insert", "upload_id", uploadID, "error", abortErr)
		}
		return nil, metadataError(uploadID, "create session", err)
	}
	s.logger.Info("upload initiated",
		"upload_id", uploadID, "owner_entity_id", req.OwnerEntityID, "file_name", name,
		"total_size", req.TotalSize, "chunk_size", chunkSize, "total_chunks", totalChunks)
	return session.Clone(), nil
}

// UploadChunk forwards one chunk to the store and records it. Re-sending a
// recorded chunk returns the current progress without touching the store.
func (s *Service) UploadChunk(ctx context.Context, req ChunkRequest) (model.Progress, error) {
	session, err := s.ownedSession(ctx, req.UploadID, req.UserID)
	if err != nil {
		return model.Progress{}, err
	}
	if err := activeState(session); err != nil {
		return model.Progress{}, err
	}
	if req.ChunkNumber < 1 || req.ChunkNumber > session.TotalChunks {
		return model.Progress{}, invalid(req.UploadID, "chunk %d outside [1, %d]", req.ChunkNumber, session.TotalChunks)
	}
	if session.HasChunk(req.ChunkNumber) {
		return session.Progress(), nil
	}
	if want := session.ExpectedChunkSize(req.ChunkNumber); req.Size != want {
		return model.Progress{}, invalid(req.UploadID, "chunk %d must be %d bytes, got %d", req.ChunkNumber, want, req.Size)
	}
	if req.Body == nil {
		return model.Progress{}, invalid(req.UploadID, "chunk %d has no body", req.ChunkNumber)
	}

	if _, err := s.store.UploadPart(ctx, session.BucketName, session.ObjectKey, session.UploadID,
		req.ChunkNumber, req.Body, req.Size); err != nil {
		s.logger.Warn("chunk upload failed", "upload_id", req.UploadID, "chunk", req.ChunkNumber, "error", err)
		return model.Progress{}, storeError(req.UploadID, "upload part", err)
	}

	updated, err := s.sessions.AddChunk(ctx, req.UploadID, req.ChunkNumber)
	if err != nil {
		if errors.Is(err, model.ErrConflict) && updated != nil {
			// The part landed but the session moved on; the store ignores
			// parts of a completed or aborted upload.
			return model.Progress{}, stateError(updated)
		}
		return model.Progress{}, metadataError(req.UploadID, "record chunk", err)
	}
	s.observer.ChunkStored(req.Size)
	s.logger.Debug("chunk stored", "upload_id", req.UploadID, "chunk", req.ChunkNumber,
		"uploaded", len(updated.UploadedChunks), "total_chunks", updated.TotalChunks)
	return updated.Progress(), nil
}

// Complete asks the store to assemble the object from its own part listing and
// materializes the file record. A store failure leaves the session FAILED.
func (s *Service) Complete(ctx context.Context, uploadID, userID string) (*model.FileRecord, error) {
	session, err := s.ownedSession(ctx, uploadID, userID)
	if err != nil {
		return nil, err
	}
	if err := activeState(session); err != nil {
		return nil, err
	}
	if missing := session.TotalChunks - len(session.UploadedChunks); missing > 0 {
		return nil, incomplete(uploadID, missing)
	}

	claimed, err := s.sessions.BeginCompletion(ctx, uploadID)
	if err != nil {
		if errors.Is(err, model.ErrConflict) && claimed != nil {
			if missing := claimed.TotalChunks - len(claimed.UploadedChunks); missing > 0 && !claimed.Status.Terminal() {
				return nil, incomplete(uploadID, missing)
			}
			return nil, stateError(claimed)
		}
		return nil, metadataError(uploadID, "claim session", err)
	}

	if _, err := s.store.CompleteMultipart(ctx, claimed.BucketName, claimed.ObjectKey, claimed.UploadID); err != nil {
		s.finish(ctx, claimed, model.StatusFailed, "store completion: "+err.Error())
		serr := storeError(uploadID, "complete multipart", err)
		// The upload id may be consumed; the client has to start over.
		serr.Retryable = false
		return nil, serr
	}

	rec := s.newRecord(claimed.OwnerEntityID, claimed.FileName, claimed.ContentType, claimed.OwnerUserID,
		claimed.ObjectKey, claimed.TotalSize)
	if err := s.materialize(ctx, rec); err != nil {
		s.finish(ctx, claimed, model.StatusFailed, "record: "+err.Error())
		s.leaveUnreferenced("completion", rec.BucketName, rec.ObjectKey, "file record insert failed")
		return nil, err
	}
	s.finish(ctx, claimed, model.StatusCompleted, "")
	s.logger.Info("upload completed", "upload_id", uploadID, "file_id", rec.ID, "object_key", rec.ObjectKey, "size", rec.FileSize)
	return rec, nil
}

// Cancel aborts the store-side upload and marks the session CANCELLED.
// Cancelling a terminal session succeeds without side effects.
func (s *Service) Cancel(ctx context.Context, uploadID, userID string) (*model.UploadSession, error) {
	session, err := s.ownedSession(ctx, uploadID, userID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}
	if session.Completing {
		return nil, invalidState(uploadID, "completion in progress")
	}
	if err := s.store.AbortMultipart(ctx, session.BucketName, session.ObjectKey, session.UploadID); err != nil && !isStoreNotFound(err) {
		return nil, storeError(uploadID, "abort multipart", err)
	}
	updated, err := s.sessions.Transition(ctx, uploadID, model.StatusCancelled, "")
	if err != nil {
		if errors.Is(err, model.ErrConflict) && updated != nil {
			if updated.Status.Terminal() {
				return updated, nil
			}
			return nil, stateError(updated)
		}
		return nil, metadataError(uploadID, "cancel session", err)
	}
	s.observer.SessionFinished("cancelled")
	s.logger.Info("upload cancelled", "upload_id", uploadID, "uploaded", len(updated.UploadedChunks), "total_chunks", updated.TotalChunks)
	return updated, nil
}

// Status returns the session snapshot for its owner.
func (s *Service) Status(ctx context.Context, uploadID, userID string) (*model.UploadSession, error) {
	return s.ownedSession(ctx, uploadID, userID)
}

func (s *Service) ownedSession(ctx context.Context, uploadID, userID string) (*model.UploadSession, error) {
	if uploadID == "" {
		return nil, invalid("", "upload id is required")
	}
	session, err := s.sessions.GetSession(ctx, uploadID)
	if err != nil {
		return nil, metadataError(uploadID, "session", err)
	}
	if userID == "" || session.OwnerUserID != userID {
		return nil, unauthorized(uploadID)
	}
	return session, nil
}

// finish resolves a completion claim. Failures are logged; the stale sweep
// resolves claims left behind.
func (s *Service) finish(ctx context.Context, session *model.UploadSession, status model.SessionStatus, reason string) {
	if _, err := s.sessions.FinishCompletion(context.WithoutCancel(ctx), session.UploadID, status, reason); err != nil {
		s.logger.Error("resolve completion claim", "upload_id", session.UploadID, "status", status, "error", err)
	}
	s.observer.SessionFinished(outcomeFor(status))
	if status == model.StatusFailed {
		s.logger.Warn("upload failed", "upload_id", session.UploadID, "reason", reason)
	}
}

func activeState(session *model.UploadSession) error {
	if session.Status != model.StatusInProgress || session.Completing {
		return stateError(session)
	}
	return nil
}

func stateError(session *model.UploadSession) *Error {
	if session.Status == model.StatusInProgress && session.Completing {
		return invalidState(session.UploadID, "completion in progress")
	}
	return invalidState(session.UploadID, "session is %s", session.Status)
}

func outcomeFor(status model.SessionStatus) string {
	switch status {
	case model.StatusCompleted:
		return "completed"
	case model.StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
