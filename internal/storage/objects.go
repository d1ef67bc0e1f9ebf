package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ChunkDrop/internal/s3storage"
)

// ObjectError is returned by MemoryObjects. It classifies the same way as
// s3storage.Error.
type ObjectError struct {
	Op      string
	Key     string
	Missing bool
}

func (e *ObjectError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s %s: not found", e.Op, e.Key)
	}
	return fmt.Sprintf("%s %s failed", e.Op, e.Key)
}

// NotFound reports whether the object or upload did not exist.
func (e *ObjectError) NotFound() bool { return e.Missing }

// Temporary is always false; the in-memory store has no transient failures.
func (e *ObjectError) Temporary() bool { return false }

type memObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

type memMultipart struct {
	bucket      string
	key         string
	contentType string
	parts       map[int][]byte
}

// MemoryObjects is an object store held in process memory. It backs
// `chunkdrop run --memory` and the transport tests.
type MemoryObjects struct {
	mu      sync.Mutex
	buckets map[string]struct{}
	objects map[string]*memObject
	uploads map[string]*memMultipart
	baseURL string
	now     func() time.Time
}

// NewMemoryObjects constructs an empty store. baseURL prefixes object URLs.
func NewMemoryObjects(baseURL string) *MemoryObjects {
	if baseURL == "" {
		baseURL = "http://memory.local"
	}
	return &MemoryObjects{
		buckets: make(map[string]struct{}),
		objects: make(map[string]*memObject),
		uploads: make(map[string]*memMultipart),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func objectID(bucket, key string) string { return bucket + "/" + key }

func etag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (m *MemoryObjects) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = struct{}{}
	return nil
}

func (m *MemoryObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("put %s: body has %d of %d bytes", key, len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectID(bucket, key)] = &memObject{data: data, contentType: contentType, modified: m.now()}
	return etag(data), nil
}

func (m *MemoryObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectID(bucket, key)]
	if !ok {
		return nil, &ObjectError{Op: "get", Key: key, Missing: true}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryObjects) InitiateMultipart(_ context.Context, bucket, key, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.uploads[id] = &memMultipart{bucket: bucket, key: key, contentType: contentType, parts: make(map[int][]byte)}
	return id, nil
}

func (m *MemoryObjects) UploadPart(_ context.Context, _, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("part %d of %s: body has %d of %d bytes", partNumber, key, len(data), size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.uploads[uploadID]
	if !ok {
		return "", &ObjectError{Op: "upload part", Key: key, Missing: true}
	}
	mp.parts[partNumber] = data
	return etag(data), nil
}

func (m *MemoryObjects) CompleteMultipart(_ context.Context, bucket, key, uploadID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.uploads[uploadID]
	if !ok {
		return "", &ObjectError{Op: "complete multipart", Key: key, Missing: true}
	}
	numbers := make([]int, 0, len(mp.parts))
	for n := range mp.parts {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(mp.parts[n])
	}
	delete(m.uploads, uploadID)
	data := buf.Bytes()
	m.objects[objectID(bucket, key)] = &memObject{data: data, contentType: mp.contentType, modified: m.now()}
	return etag(data), nil
}

func (m *MemoryObjects) AbortMultipart(_ context.Context, _, key, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[uploadID]; !ok {
		return &ObjectError{Op: "abort multipart", Key: key, Missing: true}
	}
	delete(m.uploads, uploadID)
	return nil
}

// DeleteObject is idempotent, like S3.
func (m *MemoryObjects) DeleteObject(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectID(bucket, key))
	return nil
}

func (m *MemoryObjects) CopyObject(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectID(srcBucket, srcKey)]
	if !ok {
		return &ObjectError{Op: "copy", Key: srcKey, Missing: true}
	}
	cp := *obj
	cp.data = append([]byte(nil), obj.data...)
	cp.modified = m.now()
	m.objects[objectID(dstBucket, dstKey)] = &cp
	return nil
}

func (m *MemoryObjects) ListObjects(_ context.Context, bucket, prefix string) ([]s3storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []s3storage.ObjectInfo
	for id, obj := range m.objects {
		key, ok := strings.CutPrefix(id, bucket+"/")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, s3storage.ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         etag(obj.data),
			LastModified: obj.modified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryObjects) PresignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	q := url.Values{"expires": {fmt.Sprint(int64(ttl.Seconds()))}}
	return m.ObjectURL(bucket, key) + "?" + q.Encode(), nil
}

func (m *MemoryObjects) ObjectURL(bucket, key string) string {
	return m.baseURL + "/" + bucket + "/" + (&url.URL{Path: key}).EscapedPath()
}

// Size returns the stored length of an object, or -1 if absent.
func (m *MemoryObjects) Size(bucket, key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[objectID(bucket, key)]
	if !ok {
		return -1
	}
	return int64(len(obj.data))
}

// PendingUploads counts multipart uploads neither completed nor aborted.
func (m *MemoryObjects) PendingUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}
