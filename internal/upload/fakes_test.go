package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
	"github.com/dharsanguruparan/ChunkDrop/internal/storage"
)

// fakeStoreError mimics s3storage.Error's classification methods.
type fakeStoreError struct {
	temporary bool
	notFound  bool
}

func (e *fakeStoreError) Error() string   { return fmt.Sprintf("fake store error temporary=%v", e.temporary) }
func (e *fakeStoreError) Temporary() bool { return e.temporary }
func (e *fakeStoreError) NotFound() bool  { return e.notFound }

type fakeMultipart struct {
	bucket  string
	key     string
	parts   map[int]int64
	aborted bool
	done    bool
}

// fakeStore is an in-memory object store that counts every call. Part bodies
// are drained and only their lengths kept.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]int64
	uploads  map[string]*fakeMultipart
	calls    map[string]int
	deleted  []string
	nextID   int
	failPut  error
	failPart error
	failDone error
	failDel  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string]int64),
		uploads: make(map[string]*fakeMultipart),
		calls:   make(map[string]int),
	}
}

func (f *fakeStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStore) has(bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[bucket+"/"+key]
	return ok
}

func (f *fakeStore) liveObjects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeStore) EnsureBucket(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["ensure"]++
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, _ string) (string, error) {
	f.mu.Lock()
	f.calls["put"]++
	fail := f.failPut
	f.mu.Unlock()
	if fail != nil {
		return "", fail
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", err
	}
	if n != size {
		return "", fmt.Errorf("short body: %d of %d", n, size)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = size
	return "etag-" + key, nil
}

func (f *fakeStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	size, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, &fakeStoreError{notFound: true}
	}
	return io.NopCloser(zeros(size)), nil
}

func (f *fakeStore) InitiateMultipart(_ context.Context, bucket, key, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["initiate"]++
	f.nextID++
	id := fmt.Sprintf("mpu-%d", f.nextID)
	f.uploads[id] = &fakeMultipart{bucket: bucket, key: key, parts: make(map[int]int64)}
	return id, nil
}

func (f *fakeStore) UploadPart(_ context.Context, _, _, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	f.mu.Lock()
	f.calls["part"]++
	fail := f.failPart
	f.mu.Unlock()
	if fail != nil {
		return "", fail
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	mp, ok := f.uploads[uploadID]
	if !ok || mp.aborted || mp.done {
		return "", &fakeStoreError{notFound: true}
	}
	mp.parts[partNumber] = n
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (f *fakeStore) CompleteMultipart(_ context.Context, bucket, key, uploadID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["complete"]++
	if f.failDone != nil {
		return "", f.failDone
	}
	mp, ok := f.uploads[uploadID]
	if !ok || mp.aborted || mp.done {
		return "", &fakeStoreError{notFound: true}
	}
	var total int64
	for _, n := range mp.parts {
		total += n
	}
	mp.done = true
	f.objects[bucket+"/"+key] = total
	return "etag-" + key, nil
}

func (f *fakeStore) AbortMultipart(_ context.Context, _, _, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["abort"]++
	mp, ok := f.uploads[uploadID]
	if !ok || mp.done {
		return &fakeStoreError{notFound: true}
	}
	mp.aborted = true
	return nil
}

func (f *fakeStore) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if f.failDel != nil {
		return f.failDel
	}
	delete(f.objects, bucket+"/"+key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) PresignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://store.test/%s/%s?ttl=%d", bucket, key, int(ttl.Seconds())), nil
}

func (f *fakeStore) ObjectURL(bucket, key string) string {
	return "https://store.test/" + bucket + "/" + key
}

type fakeReporter struct {
	mu      sync.Mutex
	orphans []Orphan
}

func (r *fakeReporter) ReportOrphan(_ context.Context, o Orphan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans = append(r.orphans, o)
	return nil
}

func (r *fakeReporter) all() []Orphan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Orphan(nil), r.orphans...)
}

type harness struct {
	svc      *Service
	store    *fakeStore
	mem      *storage.MemoryStore
	reporter *fakeReporter
}

const (
	testOwner = "ent-1"
	testUser  = "user-1"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithFiles(t, nil)
}

// newHarnessWithFiles lets wrap replace the file store the service sees.
func newHarnessWithFiles(t *testing.T, wrap func(*storage.MemoryStore) FileStore) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		mem:      storage.NewMemoryStore(),
		reporter: &fakeReporter{},
	}
	if err := h.mem.CreateEntity(context.Background(), testOwner, "test"); err != nil {
		t.Fatal(err)
	}
	var files FileStore = h.mem
	if wrap != nil {
		files = wrap(h.mem)
	}
	svc, err := New(Deps{
		Store:    h.store,
		Sessions: h.mem,
		Files:    files,
		Entities: h.mem,
		Orphans:  h.reporter,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{
		Bucket:             "uploads",
		MultipartThreshold: 30 << 20,
		DefaultChunkSize:   8 << 20,
		MinChunkSize:       1 << 20,
		MaxChunkSize:       64 << 20,
		PresignTTL:         time.Minute,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.svc = svc
	return h
}

// zeros is an io.Reader of n zero bytes.
func zeros(n int64) io.Reader {
	return io.LimitReader(zeroReader{}, n)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// refusingInserts fails every record insert.
type refusingInserts struct {
	*storage.MemoryStore
}

func (refusingInserts) InsertFile(context.Context, *model.FileRecord) error {
	return errors.New("insert refused")
}
