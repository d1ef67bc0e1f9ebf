package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

func seed(t *testing.T, m *MemoryStore, id string, total int) {
	t.Helper()
	err := m.CreateSession(context.Background(), &model.UploadSession{
		UploadID:    id,
		TotalChunks: total,
		TotalSize:   int64(total) * 4,
		ChunkSize:   4,
		BucketName:  "uploads",
		ObjectKey:   "entities/e/" + id + "/f.bin",
		Status:      model.StatusInProgress,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestMemoryStoreChunkUnion(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seed(t, m, "s1", 50)

	var wg sync.WaitGroup
	for n := 1; n <= 50; n++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_, _ = m.AddChunk(ctx, "s1", n)
		}(n)
		go func(n int) {
			defer wg.Done()
			_, _ = m.AddChunk(ctx, "s1", n)
		}(n)
	}
	wg.Wait()

	s, err := m.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.UploadedChunks) != 50 {
		t.Fatalf("uploaded = %d, want 50", len(s.UploadedChunks))
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seed(t, m, "s1", 2)

	s, _ := m.GetSession(ctx, "s1")
	s.UploadedChunks = append(s.UploadedChunks, 1, 2)
	s.Status = model.StatusCompleted

	again, _ := m.GetSession(ctx, "s1")
	if len(again.UploadedChunks) != 0 || again.Status != model.StatusInProgress {
		t.Fatalf("stored session mutated through returned copy: %+v", again)
	}
}

func TestMemoryStoreCompletionClaim(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seed(t, m, "s1", 2)

	if _, err := m.BeginCompletion(ctx, "s1"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("claim with missing chunks error = %v", err)
	}
	_, _ = m.AddChunk(ctx, "s1", 1)
	_, _ = m.AddChunk(ctx, "s1", 2)

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.BeginCompletion(ctx, "s1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("completion claimed %d times, want 1", wins)
	}

	if _, err := m.AddChunk(ctx, "s1", 1); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("AddChunk during completion error = %v", err)
	}
	if _, err := m.Transition(ctx, "s1", model.StatusCancelled, ""); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("cancel during completion error = %v", err)
	}
	s, err := m.FinishCompletion(ctx, "s1", model.StatusCompleted, "")
	if err != nil {
		t.Fatalf("FinishCompletion: %v", err)
	}
	if s.Status != model.StatusCompleted || s.Completing {
		t.Fatalf("session = %+v", s)
	}
	if _, err := m.FinishCompletion(ctx, "s1", model.StatusFailed, "x"); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("second finish error = %v", err)
	}
}

func TestMemoryStoreListStale(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })
	seed(t, m, "old", 1)
	m.SetClock(func() time.Time { return base.Add(2 * time.Hour) })
	seed(t, m, "new", 1)

	stale, err := m.ListStale(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].UploadID != "old" {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestMemoryStoreFiles(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	rec := &model.FileRecord{ID: "f1", OwnerEntityID: "e", FileName: "a.txt", BucketName: "b", ObjectKey: "k1"}
	if err := m.InsertFile(ctx, rec); err != nil {
		t.Fatal(err)
	}
	dup := *rec
	dup.ID = "f2"
	if err := m.InsertFile(ctx, &dup); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate insert error = %v", err)
	}
	if ok, _ := m.ReferencesObject(ctx, "b", "k1"); !ok {
		t.Fatal("expected reference")
	}
	if err := m.DeleteFile(ctx, "f1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.FindFile(ctx, "e", "a.txt"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("FindFile after delete error = %v", err)
	}
}
