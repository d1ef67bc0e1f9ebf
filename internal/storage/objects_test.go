package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryObjectsMultipartAssemblesInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryObjects("")
	id, err := m.InitiateMultipart(ctx, "b", "k", "text/plain")
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []struct {
		n    int
		body string
	}{{2, "world"}, {1, "hello "}} {
		if _, err := m.UploadPart(ctx, "b", "k", id, p.n, strings.NewReader(p.body), int64(len(p.body))); err != nil {
			t.Fatalf("part %d: %v", p.n, err)
		}
	}
	if m.PendingUploads() != 1 {
		t.Fatalf("pending = %d", m.PendingUploads())
	}
	if _, err := m.CompleteMultipart(ctx, "b", "k", id); err != nil {
		t.Fatal(err)
	}
	rc, err := m.GetObject(ctx, "b", "k")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "hello world" {
		t.Fatalf("object = %q", got)
	}
	if m.PendingUploads() != 0 {
		t.Fatal("completed upload still pending")
	}

	err = m.AbortMultipart(ctx, "b", "k", id)
	var oe *ObjectError
	if !errors.As(err, &oe) || !oe.NotFound() {
		t.Fatalf("abort after complete = %v, want not found", err)
	}
}

func TestMemoryObjectsShortBodyRejected(t *testing.T) {
	m := NewMemoryObjects("")
	if _, err := m.PutObject(context.Background(), "b", "k", bytes.NewReader([]byte("abc")), 5, ""); err == nil {
		t.Fatal("short body accepted")
	}
	if m.Size("b", "k") != -1 {
		t.Fatal("object stored despite short body")
	}
}

func TestMemoryObjectsListAndCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryObjects("http://files.test/")
	_, _ = m.PutObject(ctx, "b", "entities/e/1/a.txt", strings.NewReader("a"), 1, "")
	_, _ = m.PutObject(ctx, "b", "other/x", strings.NewReader("x"), 1, "")
	_, _ = m.PutObject(ctx, "c", "entities/e/2/b.txt", strings.NewReader("b"), 1, "")

	if err := m.CopyObject(ctx, "b", "entities/e/1/a.txt", "b", "quarantine/entities/e/1/a.txt"); err != nil {
		t.Fatal(err)
	}
	objs, err := m.ListObjects(ctx, "b", "entities/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 1 || objs[0].Key != "entities/e/1/a.txt" || objs[0].Size != 1 {
		t.Fatalf("objects = %+v", objs)
	}
	if m.Size("b", "quarantine/entities/e/1/a.txt") != 1 {
		t.Fatal("copy missing")
	}
	if got := m.ObjectURL("b", "entities/e/1/a b.txt"); got != "http://files.test/b/entities/e/1/a%20b.txt" {
		t.Fatalf("url = %s", got)
	}
}
