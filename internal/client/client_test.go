package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dharsanguruparan/ChunkDrop/internal/api"
	"github.com/dharsanguruparan/ChunkDrop/internal/auth"
	"github.com/dharsanguruparan/ChunkDrop/internal/model"
	"github.com/dharsanguruparan/ChunkDrop/internal/storage"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
)

// chunkFaults injects failures in front of the real API.
type chunkFaults struct {
	mu       sync.Mutex
	next     http.Handler
	attempts map[string]int
	// fail returns a status to reply with, or 0 to pass the request through.
	fail func(path string, attempt int) int
}

func (f *chunkFaults) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/chunks/") {
		f.mu.Lock()
		f.attempts[r.URL.Path]++
		attempt := f.attempts[r.URL.Path]
		f.mu.Unlock()
		if f.fail != nil {
			if code := f.fail(r.URL.Path, attempt); code != 0 {
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				_, _ = w.Write([]byte(`{"error":"injected","message":"injected failure"}`))
				return
			}
		}
	}
	f.next.ServeHTTP(w, r)
}

func (f *chunkFaults) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.attempts {
		n += v
	}
	return n
}

func (f *chunkFaults) count(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, v := range f.attempts {
		if strings.HasSuffix(p, suffix) {
			return v
		}
	}
	return 0
}

type env struct {
	client  *Client
	faults  *chunkFaults
	objects *storage.MemoryObjects
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meta := storage.NewMemoryStore()
	if err := meta.CreateEntity(context.Background(), "ent-1", "test"); err != nil {
		t.Fatal(err)
	}
	objects := storage.NewMemoryObjects("")
	svc, err := upload.New(upload.Deps{Store: objects, Sessions: meta, Files: meta, Entities: meta, Logger: logger},
		upload.Options{Bucket: "uploads", MultipartThreshold: 100, DefaultChunkSize: 40, MinChunkSize: 10, MaxChunkSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	signer := auth.NewSigner([]byte("secret"), time.Hour)
	token, _, err := signer.Issue("user-1", "")
	if err != nil {
		t.Fatal(err)
	}
	faults := &chunkFaults{next: api.New(svc, signer, ":0", t.TempDir(), logger).Handler(), attempts: map[string]int{}}
	ts := httptest.NewServer(faults)
	t.Cleanup(ts.Close)

	c := New(ts.URL, token,
		WithThreshold(100),
		WithParallelism(3),
		WithRetries(3),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		WithLogger(logger),
	)
	return &env{client: c, faults: faults, objects: objects}
}

func writeFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return p, data
}

func (e *env) stored(t *testing.T, rec *model.FileRecord) []byte {
	t.Helper()
	rc, err := e.objects.GetObject(context.Background(), rec.BucketName, rec.ObjectKey)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return data
}

func TestUploadFileDirect(t *testing.T) {
	e := newEnv(t)
	p, data := writeFile(t, "small.bin", 60)
	rec, err := e.client.UploadFile(context.Background(), "ent-1", p, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FileName != "small.bin" || rec.FileSize != 60 {
		t.Fatalf("record = %+v", rec)
	}
	if string(e.stored(t, rec)) != string(data) {
		t.Fatal("stored bytes differ")
	}
	if e.faults.total() != 0 {
		t.Fatal("direct upload sent chunk requests")
	}
}

func TestUploadFileChunkedRetriesTransientFailures(t *testing.T) {
	e := newEnv(t)
	e.faults.fail = func(path string, attempt int) int {
		if (strings.HasSuffix(path, "/chunks/2") || strings.HasSuffix(path, "/chunks/5")) && attempt == 1 {
			return http.StatusServiceUnavailable
		}
		return 0
	}
	var mu sync.Mutex
	var last model.Progress
	e.client.onProgress = func(p model.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.UploadedCount > last.UploadedCount {
			last = p
		}
	}

	p, data := writeFile(t, "big.bin", 250)
	rec, err := e.client.UploadFile(context.Background(), "ent-1", p, "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.FileSize != 250 || string(e.stored(t, rec)) != string(data) {
		t.Fatalf("record = %+v", rec)
	}
	// 250 bytes at the default 40 byte chunk size is 7 chunks, plus two retries.
	if got := e.faults.total(); got != 9 {
		t.Fatalf("chunk requests = %d, want 9", got)
	}
	if last.UploadedCount != 7 || last.ProgressPercent != 100 {
		t.Fatalf("last progress = %+v", last)
	}
}

func TestUploadFilePermanentFailureStops(t *testing.T) {
	e := newEnv(t)
	e.faults.fail = func(path string, _ int) int {
		if strings.HasSuffix(path, "/chunks/3") {
			return http.StatusBadRequest
		}
		return 0
	}
	p, _ := writeFile(t, "big.bin", 250)
	_, err := e.client.UploadFile(context.Background(), "ent-1", p, "")
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want a 400 API error", err)
	}
	if got := e.faults.count("/chunks/3"); got != 1 {
		t.Fatalf("chunk 3 attempts = %d, want 1", got)
	}
}

func TestUploadFileResumes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p, data := writeFile(t, "big.bin", 250)

	session, err := e.client.Initiate(ctx, "ent-1", "big.bin", "", 250)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{1, 2} {
		if _, err := e.client.PutChunk(ctx, session.UploadID, n, data[(n-1)*40:n*40]); err != nil {
			t.Fatal(err)
		}
	}

	rec, err := e.client.UploadFile(ctx, "ent-1", p, session.UploadID)
	if err != nil {
		t.Fatal(err)
	}
	if string(e.stored(t, rec)) != string(data) {
		t.Fatal("stored bytes differ")
	}
	// Two manual chunks plus the five the resume still had to send.
	if got := e.faults.total(); got != 7 {
		t.Fatalf("chunk requests = %d, want 7", got)
	}

	status, err := e.client.Status(ctx, session.UploadID)
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != model.StatusCompleted {
		t.Fatalf("status = %s", status.Status)
	}
	if _, err := e.client.UploadFile(ctx, "ent-1", p, session.UploadID); err == nil {
		t.Fatal("resuming a completed session succeeded")
	}
}

func TestCancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	session, err := e.client.Initiate(ctx, "ent-1", "big.bin", "", 250)
	if err != nil {
		t.Fatal(err)
	}
	got, err := e.client.Cancel(ctx, session.UploadID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	_, err = e.client.Complete(ctx, session.UploadID)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict || apiErr.Temporary() {
		t.Fatalf("complete after cancel = %v", err)
	}
}
