package upload

import (
	"context"
	"io"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// ListFiles returns the owner's file records ordered by name.
func (s *Service) ListFiles(ctx context.Context, ownerEntityID string) ([]*model.FileRecord, error) {
	if err := s.checkEntity(ctx, ownerEntityID); err != nil {
		return nil, err
	}
	files, err := s.files.ListFiles(ctx, ownerEntityID)
	if err != nil {
		return nil, metadataError(ownerEntityID, "list files", err)
	}
	if files == nil {
		files = []*model.FileRecord{}
	}
	return files, nil
}

// FileURL returns a presigned GET URL for the named file.
func (s *Service) FileURL(ctx context.Context, ownerEntityID, fileName string) (string, error) {
	rec, err := s.lookup(ctx, ownerEntityID, fileName)
	if err != nil {
		return "", err
	}
	url, err := s.store.PresignedURL(ctx, rec.BucketName, rec.ObjectKey, s.opts.PresignTTL)
	if err != nil {
		return "", storeError(rec.ID, "presign", err)
	}
	return url, nil
}

// OpenFile streams the whole object behind a record. The caller closes the
// reader.
func (s *Service) OpenFile(ctx context.Context, ownerEntityID, fileName string) (io.ReadCloser, *model.FileRecord, error) {
	rec, err := s.lookup(ctx, ownerEntityID, fileName)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.store.GetObject(ctx, rec.BucketName, rec.ObjectKey)
	if err != nil {
		if isStoreNotFound(err) {
			s.logger.Error("record points at a missing object", "file_id", rec.ID, "object_key", rec.ObjectKey)
		}
		return nil, nil, storeError(rec.ID, "get object", err)
	}
	return body, rec, nil
}

// DeleteFile removes the object and then its record. A failed store delete
// keeps the record so it never points at a missing object. Any authenticated
// caller may delete; entity-level permissions are not modelled here.
func (s *Service) DeleteFile(ctx context.Context, ownerEntityID, fileName, userID string) error {
	if userID == "" {
		return &Error{Kind: KindUnauthorized, Reason: "missing caller identity"}
	}
	rec, err := s.lookup(ctx, ownerEntityID, fileName)
	if err != nil {
		return err
	}
	if err := s.store.DeleteObject(ctx, rec.BucketName, rec.ObjectKey); err != nil && !isStoreNotFound(err) {
		return storeError(rec.ID, "delete object", err)
	}
	if err := s.files.DeleteFile(ctx, rec.ID); err != nil {
		return metadataError(rec.ID, "delete file record", err)
	}
	s.logger.Info("file deleted", "file_id", rec.ID, "owner_entity_id", ownerEntityID, "file_name", rec.FileName, "by", userID)
	return nil
}

func (s *Service) lookup(ctx context.Context, ownerEntityID, fileName string) (*model.FileRecord, error) {
	name, ok := CleanFileName(fileName)
	if !ok {
		return nil, invalid(ownerEntityID, "invalid file name %q", fileName)
	}
	rec, err := s.files.FindFile(ctx, ownerEntityID, name)
	if err != nil {
		return nil, metadataError(name, "file", err)
	}
	return rec, nil
}
