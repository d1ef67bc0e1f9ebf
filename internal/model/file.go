// Package model contains the records shared by the upload core, the
// persistence layers, and the transports.
package model

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned by persistence layers when a row is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update did not match the
	// row's current state, or a uniqueness constraint rejected an insert.
	ErrConflict = errors.New("record state conflict")
)

// SessionStatus describes the lifecycle of a chunked upload. A named string
// type keeps the values type safe while storing cleanly as TEXT.
type SessionStatus string

const (
	StatusInProgress SessionStatus = "IN_PROGRESS"
	StatusCompleted  SessionStatus = "COMPLETED"
	StatusFailed     SessionStatus = "FAILED"
	StatusCancelled  SessionStatus = "CANCELLED"
)

// Terminal reports whether no further transition may leave the status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	return s == StatusInProgress || s.Terminal()
}

// UploadSession is the durable ledger entry of one multipart upload.
type UploadSession struct {
	UploadID       string        `json:"uploadId"`
	OwnerEntityID  string        `json:"ownerEntityId"`
	OwnerUserID    string        `json:"ownerUserId"`
	FileName       string        `json:"fileName"`
	ContentType    string        `json:"contentType"`
	TotalSize      int64         `json:"totalSize"`
	ChunkSize      int64         `json:"chunkSize"`
	TotalChunks    int           `json:"totalChunks"`
	BucketName     string        `json:"bucketName"`
	ObjectKey      string        `json:"objectKey"`
	UploadedChunks []int         `json:"uploadedChunks"`
	Status         SessionStatus `json:"status"`
	// Completing is set while a completion call owns the session.
	Completing    bool      `json:"completing"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TotalChunksFor returns ceil(totalSize / chunkSize).
func TotalChunksFor(totalSize, chunkSize int64) int {
	if chunkSize <= 0 || totalSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// ExpectedChunkSize is the exact byte count chunk n must carry: chunkSize for
// every chunk but the last, which carries the remainder.
func (s *UploadSession) ExpectedChunkSize(n int) int64 {
	if n == s.TotalChunks {
		return s.TotalSize - int64(s.TotalChunks-1)*s.ChunkSize
	}
	return s.ChunkSize
}

// HasChunk reports whether chunk n is already recorded.
func (s *UploadSession) HasChunk(n int) bool {
	i := sort.SearchInts(s.UploadedChunks, n)
	return i < len(s.UploadedChunks) && s.UploadedChunks[i] == n
}

// AddChunk inserts n into the sorted chunk set and reports whether it was new.
func (s *UploadSession) AddChunk(n int) bool {
	i := sort.SearchInts(s.UploadedChunks, n)
	if i < len(s.UploadedChunks) && s.UploadedChunks[i] == n {
		return false
	}
	s.UploadedChunks = append(s.UploadedChunks, 0)
	copy(s.UploadedChunks[i+1:], s.UploadedChunks[i:])
	s.UploadedChunks[i] = n
	return true
}

// MissingChunks lists chunk numbers not yet recorded.
func (s *UploadSession) MissingChunks() []int {
	missing := make([]int, 0, s.TotalChunks-len(s.UploadedChunks))
	for n := 1; n <= s.TotalChunks; n++ {
		if !s.HasChunk(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Progress summarizes the chunk set for clients.
func (s *UploadSession) Progress() Progress {
	return NewProgress(len(s.UploadedChunks), s.TotalChunks)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (s *UploadSession) Clone() *UploadSession {
	out := *s
	out.UploadedChunks = append([]int(nil), s.UploadedChunks...)
	return &out
}

// Progress is returned after every chunk.
type Progress struct {
	UploadedCount   int     `json:"uploadedCount"`
	TotalChunks     int     `json:"totalChunks"`
	ProgressPercent float64 `json:"progressPercent"`
}

// NewProgress computes the percentage, capped at 100 and rounded to two decimals.
func NewProgress(uploaded, total int) Progress {
	p := Progress{UploadedCount: uploaded, TotalChunks: total}
	if total > 0 {
		pct := float64(uploaded) * 100 / float64(total)
		if pct > 100 {
			pct = 100
		}
		p.ProgressPercent = float64(int64(pct*100)) / 100
	}
	return p
}

// FileRecord holds metadata about a durably stored object attached to an
// owning entity. At most one record exists per (OwnerEntityID, FileName).
type FileRecord struct {
	ID            string    `json:"id"`
	OwnerEntityID string    `json:"ownerEntityId"`
	FileName      string    `json:"fileName"`
	FileSize      int64     `json:"fileSize"`
	FileType      string    `json:"fileType"`
	ContentType   string    `json:"contentType"`
	BucketName    string    `json:"bucketName"`
	ObjectKey     string    `json:"objectKey"`
	AccessURL     string    `json:"accessUrl"`
	UploadedBy    string    `json:"uploadedBy"`
	UploadedAt    time.Time `json:"uploadedAt"`
}
