package upload

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

func (s *Service) newRecord(owner, name, contentType, user, key string, size int64) *model.FileRecord {
	return &model.FileRecord{
		ID:            s.newToken(),
		OwnerEntityID: owner,
		FileName:      name,
		FileSize:      size,
		FileType:      FileType(name),
		ContentType:   contentType,
		BucketName:    s.opts.Bucket,
		ObjectKey:     key,
		AccessURL:     s.store.ObjectURL(s.opts.Bucket, key),
		UploadedBy:    user,
		UploadedAt:    s.now(),
	}
}

// supersede runs the first half of the overwrite protocol for (owner, name):
// the old object is deleted from the store before its row. A failed store
// delete leaks the old object, which is reported and the row removed anyway
// so the newer upload can take its place.
func (s *Service) supersede(ctx context.Context, owner, name, newKey string) error {
	old, err := s.files.FindFile(ctx, owner, name)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return metadataError(name, "find existing file", err)
	}
	if old.ObjectKey != newKey || old.BucketName != s.opts.Bucket {
		if err := s.store.DeleteObject(ctx, old.BucketName, old.ObjectKey); err != nil && !isStoreNotFound(err) {
			s.reportOrphan(ctx, "overwrite", Orphan{Bucket: old.BucketName, Key: old.ObjectKey, Reason: "overwrite delete failed: " + err.Error()})
		}
	}
	if err := s.files.DeleteFile(ctx, old.ID); err != nil && !errors.Is(err, model.ErrNotFound) {
		return metadataError(old.ID, "delete superseded record", err)
	}
	s.logger.Info("file superseded", "owner_entity_id", owner, "file_name", name, "old_object_key", old.ObjectKey)
	return nil
}

// materialize replaces any same-named record with rec. A concurrent writer
// that inserts between supersede and insert is superseded once more.
func (s *Service) materialize(ctx context.Context, rec *model.FileRecord) error {
	const attempts = 2
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.supersede(ctx, rec.OwnerEntityID, rec.FileName, rec.ObjectKey); err != nil {
			return err
		}
		err = s.files.InsertFile(ctx, rec)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrConflict) {
			break
		}
	}
	return metadataError(rec.FileName, "insert file record", err)
}
