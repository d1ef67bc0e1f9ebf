// Package storage contains the in-memory metadata persistence layer used by
// tests and by `chunkdrop run --memory`. It mirrors the conditional update
// semantics of the Postgres repositories so the upload core behaves the same
// against either backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

// MemoryStore keeps sessions, file records, and entities behind one RWMutex.
// RWMutex lets status reads proceed concurrently while chunk writes serialize.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.UploadSession
	files    map[string]*model.FileRecord
	entities map[string]string
	now      func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.UploadSession),
		files:    make(map[string]*model.FileRecord),
		entities: make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source; tests use it to age sessions.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// CreateSession inserts a new session.
func (m *MemoryStore) CreateSession(_ context.Context, s *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.UploadID]; ok {
		return fmt.Errorf("insert session %s: %w", s.UploadID, model.ErrConflict)
	}
	now := m.now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.UploadedChunks == nil {
		s.UploadedChunks = []int{}
	}
	m.sessions[s.UploadID] = s.Clone()
	return nil
}

// GetSession returns a copy of the session.
func (m *MemoryStore) GetSession(_ context.Context, uploadID string) (*model.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", uploadID, model.ErrNotFound)
	}
	return s.Clone(), nil
}

// AddChunk records chunk while the session is in progress and unclaimed.
func (m *MemoryStore) AddChunk(_ context.Context, uploadID string, chunk int) (*model.UploadSession, error) {
	return m.update(uploadID, func(s *model.UploadSession) bool {
		if s.Status != model.StatusInProgress || s.Completing {
			return false
		}
		s.AddChunk(chunk)
		return true
	})
}

// BeginCompletion claims a fully uploaded session.
func (m *MemoryStore) BeginCompletion(_ context.Context, uploadID string) (*model.UploadSession, error) {
	return m.update(uploadID, func(s *model.UploadSession) bool {
		if s.Status != model.StatusInProgress || s.Completing || len(s.UploadedChunks) != s.TotalChunks {
			return false
		}
		s.Completing = true
		return true
	})
}

// FinishCompletion resolves a claimed session.
func (m *MemoryStore) FinishCompletion(_ context.Context, uploadID string, status model.SessionStatus, reason string) (*model.UploadSession, error) {
	return m.update(uploadID, func(s *model.UploadSession) bool {
		if s.Status != model.StatusInProgress || !s.Completing {
			return false
		}
		s.Status = status
		s.Completing = false
		s.FailureReason = reason
		return true
	})
}

// Transition moves an unclaimed in-progress session to status.
func (m *MemoryStore) Transition(_ context.Context, uploadID string, status model.SessionStatus, reason string) (*model.UploadSession, error) {
	return m.update(uploadID, func(s *model.UploadSession) bool {
		if s.Status != model.StatusInProgress || s.Completing {
			return false
		}
		s.Status = status
		s.FailureReason = reason
		return true
	})
}

// ListStale returns in-progress sessions last updated before the cutoff,
// oldest first.
func (m *MemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]*model.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.UploadSession
	for _, s := range m.sessions {
		if s.Status == model.StatusInProgress && s.UpdatedAt.Before(before) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ActiveObjectKeys returns keys of in-progress sessions in bucket.
func (m *MemoryStore) ActiveObjectKeys(_ context.Context, bucket string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make(map[string]struct{})
	for _, s := range m.sessions {
		if s.BucketName == bucket && s.Status == model.StatusInProgress {
			keys[s.ObjectKey] = struct{}{}
		}
	}
	return keys, nil
}

// update applies mutate under the write lock. A false return from mutate is
// reported as a conflict alongside the unchanged session.
func (m *MemoryStore) update(uploadID string, mutate func(*model.UploadSession) bool) (*model.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", uploadID, model.ErrNotFound)
	}
	next := s.Clone()
	if !mutate(next) {
		return s.Clone(), fmt.Errorf("session %s is %s: %w", uploadID, s.Status, model.ErrConflict)
	}
	next.UpdatedAt = m.now()
	m.sessions[uploadID] = next
	return next.Clone(), nil
}

// FindFile returns the record for (owner, fileName).
func (m *MemoryStore) FindFile(_ context.Context, ownerEntityID, fileName string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.files {
		if rec.OwnerEntityID == ownerEntityID && rec.FileName == fileName {
			copy := *rec
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("file %s/%s: %w", ownerEntityID, fileName, model.ErrNotFound)
}

// InsertFile stores rec unless the owner already has a file by that name.
func (m *MemoryStore) InsertFile(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.files {
		if existing.OwnerEntityID == rec.OwnerEntityID && existing.FileName == rec.FileName {
			return fmt.Errorf("insert file %s/%s: %w", rec.OwnerEntityID, rec.FileName, model.ErrConflict)
		}
	}
	copy := *rec
	m.files[rec.ID] = &copy
	return nil
}

// DeleteFile removes a record by id.
func (m *MemoryStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, model.ErrNotFound)
	}
	delete(m.files, id)
	return nil
}

// ListFiles returns an owner's records ordered by name.
func (m *MemoryStore) ListFiles(_ context.Context, ownerEntityID string) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.files {
		if rec.OwnerEntityID == ownerEntityID {
			copy := *rec
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// ReferencesObject reports whether a record points at bucket/key.
func (m *MemoryStore) ReferencesObject(_ context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.files {
		if rec.BucketName == bucket && rec.ObjectKey == key {
			return true, nil
		}
	}
	return false, nil
}

// ObjectKeys returns every key referenced in bucket.
func (m *MemoryStore) ObjectKeys(_ context.Context, bucket string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make(map[string]struct{})
	for _, rec := range m.files {
		if rec.BucketName == bucket {
			keys[rec.ObjectKey] = struct{}{}
		}
	}
	return keys, nil
}

// CreateEntity registers an owning entity.
func (m *MemoryStore) CreateEntity(_ context.Context, id, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		m.entities[id] = kind
	}
	return nil
}

// Exists reports whether the entity is registered.
func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entities[id]
	return ok, nil
}
