package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

const fileColumns = `id, owner_entity_id, file_name, file_size, file_type, content_type,
	bucket_name, object_key, access_url, uploaded_by, uploaded_at`

// FileRepository wraps the SQL for file records.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// FindFile returns the record for (owner, fileName).
func (r *FileRepository) FindFile(ctx context.Context, ownerEntityID, fileName string) (*model.FileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_records WHERE owner_entity_id=$1 AND file_name=$2`, ownerEntityID, fileName)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("file %s/%s: %w", ownerEntityID, fileName, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select file: %w", err)
	}
	return rec, nil
}

// InsertFile stores a new record. A second record for the same owner and
// name is rejected with model.ErrConflict.
func (r *FileRepository) InsertFile(ctx context.Context, rec *model.FileRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO file_records (`+fileColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, rec.OwnerEntityID, rec.FileName, rec.FileSize, rec.FileType, rec.ContentType,
		rec.BucketName, rec.ObjectKey, rec.AccessURL, rec.UploadedBy, rec.UploadedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert file %s/%s: %w", rec.OwnerEntityID, rec.FileName, model.ErrConflict)
		}
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// DeleteFile removes a record by id.
func (r *FileRepository) DeleteFile(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM file_records WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("file %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListFiles returns an owner's records ordered by name.
func (r *FileRepository) ListFiles(ctx context.Context, ownerEntityID string) ([]*model.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fileColumns+` FROM file_records WHERE owner_entity_id=$1 ORDER BY file_name`, ownerEntityID)
	if err != nil {
		return nil, fmt.Errorf("select files: %w", err)
	}
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReferencesObject reports whether any record points at bucket/key.
func (r *FileRepository) ReferencesObject(ctx context.Context, bucket, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM file_records WHERE bucket_name=$1 AND object_key=$2)`, bucket, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select reference: %w", err)
	}
	return exists, nil
}

// ObjectKeys returns every object key referenced in bucket.
func (r *FileRepository) ObjectKeys(ctx context.Context, bucket string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT object_key FROM file_records WHERE bucket_name=$1`, bucket)
	if err != nil {
		return nil, fmt.Errorf("select object keys: %w", err)
	}
	return collectKeys(rows)
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var rec model.FileRecord
	if err := row.Scan(&rec.ID, &rec.OwnerEntityID, &rec.FileName, &rec.FileSize, &rec.FileType, &rec.ContentType,
		&rec.BucketName, &rec.ObjectKey, &rec.AccessURL, &rec.UploadedBy, &rec.UploadedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
