package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

const sessionColumns = `upload_id, owner_entity_id, owner_user_id, file_name, content_type,
	total_size, chunk_size, total_chunks, bucket_name, object_key, uploaded_chunks,
	status, completing, failure_reason, created_at, updated_at`

// SessionRepository persists upload sessions. Every mutation is a single row
// UPDATE ... RETURNING so concurrent chunk uploads serialize on the row.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs a repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// CreateSession inserts a new in-progress session.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.UploadSession) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.UploadedChunks == nil {
		s.UploadedChunks = []int{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO upload_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, s.UploadID, s.OwnerEntityID, s.OwnerUserID, s.FileName, s.ContentType,
		s.TotalSize, s.ChunkSize, s.TotalChunks, s.BucketName, s.ObjectKey, toInt32s(s.UploadedChunks),
		string(s.Status), s.Completing, nullable(s.FailureReason), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert session %s: %w", s.UploadID, model.ErrConflict)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by upload id.
func (r *SessionRepository) GetSession(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE upload_id=$1`, uploadID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", uploadID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return s, nil
}

// AddChunk unions chunk into the recorded set while the session is in
// progress and not claimed for completion. On a state mismatch it returns
// the current row together with model.ErrConflict.
func (r *SessionRepository) AddChunk(ctx context.Context, uploadID string, chunk int) (*model.UploadSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE upload_sessions
		SET uploaded_chunks = CASE WHEN $2::int = ANY(uploaded_chunks) THEN uploaded_chunks
			ELSE array_append(uploaded_chunks, $2::int) END,
			updated_at = $3
		WHERE upload_id = $1 AND status = 'IN_PROGRESS' AND NOT completing
		RETURNING `+sessionColumns, uploadID, chunk, time.Now().UTC())
	return r.conditional(ctx, uploadID, row)
}

// BeginCompletion claims a fully uploaded session for completion.
func (r *SessionRepository) BeginCompletion(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE upload_sessions
		SET completing = true, updated_at = $2
		WHERE upload_id = $1 AND status = 'IN_PROGRESS' AND NOT completing
			AND cardinality(uploaded_chunks) = total_chunks
		RETURNING `+sessionColumns, uploadID, time.Now().UTC())
	return r.conditional(ctx, uploadID, row)
}

// FinishCompletion resolves a claimed session into a terminal status.
func (r *SessionRepository) FinishCompletion(ctx context.Context, uploadID string, status model.SessionStatus, reason string) (*model.UploadSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE upload_sessions
		SET status = $2, completing = false, failure_reason = $3, updated_at = $4
		WHERE upload_id = $1 AND status = 'IN_PROGRESS' AND completing
		RETURNING `+sessionColumns, uploadID, string(status), nullable(reason), time.Now().UTC())
	return r.conditional(ctx, uploadID, row)
}

// Transition moves an unclaimed in-progress session to a terminal status.
func (r *SessionRepository) Transition(ctx context.Context, uploadID string, status model.SessionStatus, reason string) (*model.UploadSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE upload_sessions
		SET status = $2, failure_reason = $3, updated_at = $4
		WHERE upload_id = $1 AND status = 'IN_PROGRESS' AND NOT completing
		RETURNING `+sessionColumns, uploadID, string(status), nullable(reason), time.Now().UTC())
	return r.conditional(ctx, uploadID, row)
}

// ListStale returns in-progress sessions untouched since before. A limit of
// zero or less returns all of them.
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*model.UploadSession, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM upload_sessions
		WHERE status = 'IN_PROGRESS' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, before, lim)
	if err != nil {
		return nil, fmt.Errorf("select stale sessions: %w", err)
	}
	defer rows.Close()
	var out []*model.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ActiveObjectKeys returns the destination keys of in-progress sessions.
func (r *SessionRepository) ActiveObjectKeys(ctx context.Context, bucket string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT object_key FROM upload_sessions WHERE bucket_name = $1 AND status = 'IN_PROGRESS'
	`, bucket)
	if err != nil {
		return nil, fmt.Errorf("select active keys: %w", err)
	}
	return collectKeys(rows)
}

func (r *SessionRepository) conditional(ctx context.Context, uploadID string, row pgx.Row) (*model.UploadSession, error) {
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update session: %w", err)
	}
	current, getErr := r.GetSession(ctx, uploadID)
	if getErr != nil {
		return nil, getErr
	}
	return current, fmt.Errorf("session %s is %s: %w", uploadID, current.Status, model.ErrConflict)
}

func scanSession(row pgx.Row) (*model.UploadSession, error) {
	var (
		s      model.UploadSession
		chunks []int32
		status string
		reason *string
	)
	if err := row.Scan(&s.UploadID, &s.OwnerEntityID, &s.OwnerUserID, &s.FileName, &s.ContentType,
		&s.TotalSize, &s.ChunkSize, &s.TotalChunks, &s.BucketName, &s.ObjectKey, &chunks,
		&status, &s.Completing, &reason, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	if !s.Status.Valid() {
		return nil, fmt.Errorf("session %s has unknown status %q", s.UploadID, status)
	}
	if reason != nil {
		s.FailureReason = *reason
	}
	s.UploadedChunks = make([]int, 0, len(chunks))
	for _, c := range chunks {
		s.AddChunk(int(c))
	}
	return &s, nil
}

func collectKeys(rows pgx.Rows) (map[string]struct{}, error) {
	defer rows.Close()
	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys[key] = struct{}{}
	}
	return keys, rows.Err()
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
